package orchestrator

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cuemby/swarmd/pkg/coordserver"
	"github.com/cuemby/swarmd/pkg/events"
	"github.com/cuemby/swarmd/pkg/loadbalancer"
	"github.com/cuemby/swarmd/pkg/log"
	"github.com/cuemby/swarmd/pkg/types"
)

const dispatchInterval = 250 * time.Millisecond

// dispatchLoop is the orchestrator's single dispatch cycle: on each tick
// it ages overdue Queued tasks, then assigns Queued tasks to eligible
// agents, at most one task per agent per cycle, before yielding.
func (c *Coordinator) dispatchLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.runDispatchCycle(time.Now())
		case <-c.stopCh:
			return
		}
	}
}

// runDispatchCycle applies aging, then assigns Queued tasks in priority
// order (Critical before High before Medium before Low; ties break by
// earliest EnqueuedAt). Aging promotes any task that has waited longer
// than AgingInterval one priority level, once, so a sustained stream of
// Critical work cannot starve Low tasks indefinitely.
func (c *Coordinator) runDispatchCycle(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shuttingDown {
		return
	}

	for _, t := range c.tasks {
		if t.Status != types.TaskPending || t.RetryNotBefore().IsZero() || now.Before(t.RetryNotBefore()) {
			continue
		}
		t.SetRetryNotBefore(time.Time{})
		c.promoteIfEligibleLocked(t, now)
	}

	if c.recovery.InSafeMode() {
		return
	}

	for _, t := range c.tasks {
		if t.Status != types.TaskQueued || t.Aged() {
			continue
		}
		if now.Sub(t.EnqueuedAt) >= c.cfg.AgingInterval {
			t.Priority = t.Priority.Promote()
			t.SetAged(true)
		}
	}

	queued := make([]*types.Task, 0)
	for _, t := range c.tasks {
		if t.Status == types.TaskQueued {
			queued = append(queued, t)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Priority != queued[j].Priority {
			return queued[i].Priority > queued[j].Priority
		}
		return queued[i].EnqueuedAt.Before(queued[j].EnqueuedAt)
	})

	agents := make([]*types.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		if a.State == types.AgentIdle || a.State == types.AgentBusy {
			agents = append(agents, a)
		}
	}

	assigned := make(map[string]struct{})
	for _, t := range queued {
		agentID, ok := c.balancer.Select(t, agents, assigned)
		if !ok {
			continue
		}
		assigned[agentID] = struct{}{}
		c.assignLocked(t, c.agents[agentID], now)
	}
}

// assignLocked binds task to agent, applies resource accounting, and
// sends the task_assignment frame. Callers hold c.mu.
func (c *Coordinator) assignLocked(task *types.Task, agent *types.Agent, now time.Time) {
	loadbalancer.Allocate(agent, task.RequiredResources)

	task.Status = types.TaskAssigned
	task.Assignment = &types.Assignment{AgentID: agent.ID, AssignedAt: now, Timeout: task.Timeout}
	task.UpdatedAt = now
	if agent.State == types.AgentIdle {
		agent.State = types.AgentBusy
	}
	agent.UpdatedAt = now

	peers := c.topo.Neighbors(agent.ID)
	payload, err := json.Marshal(coordserver.TaskAssignmentPayload{
		TaskID:       task.ID,
		Kind:         task.Kind,
		Description:  task.Description,
		TimeoutMs:    task.Timeout.Milliseconds(),
		PeerAgentIDs: peers,
	})
	if err != nil {
		log.WithComponent("dispatch").Error().Err(err).Str("task_id", task.ID).Msg("encode task_assignment payload")
		return
	}

	if err := c.hub.Send(agent.ID, &coordserver.Frame{Type: coordserver.FrameTaskAssignment, Payload: payload}); err != nil {
		log.WithComponent("dispatch").Warn().Err(err).Str("agent_id", agent.ID).Str("task_id", task.ID).Msg("send task_assignment")
	}
	c.publish(events.EventTaskAssigned, agent.ID, task.ID, "task assigned")
}
