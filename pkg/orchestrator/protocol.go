package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/cuemby/swarmd/pkg/coordserver"
	"github.com/cuemby/swarmd/pkg/events"
	"github.com/cuemby/swarmd/pkg/loadbalancer"
	"github.com/cuemby/swarmd/pkg/log"
	"github.com/cuemby/swarmd/pkg/types"
)

// baseRetryDelay is the base of the per-task retry backoff formula
// baseRetryDelay*2^attempt, distinct from Failure Recovery's own
// strategy-retry backoff.
const baseRetryDelay = 5 * time.Second

// HandleRegister completes a pending SpawnAgent call, or - per the worker
// protocol's allowance for externally managed agents - admits a worker
// that registers without one, and returns the swarm's active topology
// pattern.
func (c *Coordinator) HandleRegister(agentID, swarmID, kind string, capabilities []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	agent, known := c.agents[agentID]
	if !known {
		agent = &types.Agent{
			ID:                agentID,
			Kind:              kind,
			Capabilities:      toSet(capabilities),
			Resources:         make(map[types.ResourceKind]*types.ResourcePool),
			Weight:            1.0,
			ExternallyManaged: true,
			CreatedAt:         now,
		}
		c.agents[agentID] = agent
		if err := c.topo.AddAgent(agentID, capabilities); err != nil {
			log.WithComponent("orchestrator").Warn().Err(err).Str("agent_id", agentID).Msg("add externally managed agent to topology")
		}
	} else if agent.State == types.AgentInitializing {
		agent.Capabilities = toSet(capabilities)
		if err := c.topo.AddAgent(agentID, capabilities); err != nil {
			log.WithComponent("orchestrator").Warn().Err(err).Str("agent_id", agentID).Msg("add spawned agent to topology")
		}
	}

	agent.State = types.AgentIdle
	agent.Health = types.AgentHealth{Status: types.HealthHealthy, LastHeartbeat: now}
	agent.UpdatedAt = now

	if pending, ok := c.pendingSpawns[agentID]; ok {
		delete(c.pendingSpawns, agentID)
		pending.done <- nil
	}

	c.publish(events.EventAgentRegistered, agentID, "", "agent registered")
	return string(c.topo.Pattern()), nil
}

// HandleHeartbeat refreshes agentID's liveness timestamp and rolling load
// metrics. The worker protocol has no separate "task started"
// acknowledgment, so a heartbeat received while a task sits Assigned to
// this agent is this module's signal that the agent has begun running
// it, and the task moves to InProgress.
func (c *Coordinator) HandleHeartbeat(agentID string, p coordserver.HeartbeatPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[agentID]
	if !ok {
		return
	}
	now := time.Now()
	agent.Health.LastHeartbeat = now
	agent.Metrics.CurrentLoad = p.CurrentLoad
	agent.TaskCount = p.TaskCount

	for _, t := range c.tasks {
		if t.Status == types.TaskAssigned && t.Assignment != nil && t.Assignment.AgentID == agentID {
			t.Status = types.TaskInProgress
			t.UpdatedAt = now
		}
	}
}

// HandleTaskResult completes a task successfully, releases its agent's
// resources, updates rolling performance metrics, and promotes any
// dependents that are now eligible.
func (c *Coordinator) HandleTaskResult(agentID string, p coordserver.TaskResultPayload) {
	c.mu.Lock()

	task, ok := c.tasks[p.TaskID]
	if !ok || task.Assignment == nil || task.Assignment.AgentID != agentID {
		c.mu.Unlock()
		return
	}
	agent := c.agents[agentID]

	execTime := time.Duration(p.ExecutionMs) * time.Millisecond
	now := time.Now()

	if agent != nil {
		loadbalancer.Deallocate(agent, task.RequiredResources)
		recordAgentTaskOutcome(agent, execTime, true, now)
		if agent.State == types.AgentBusy && agent.TaskCount == 0 {
			agent.State = types.AgentIdle
		}
	}

	task.Status = types.TaskCompleted
	task.Result = &types.TaskResult{Payload: p.Result, ExecutionTime: execTime}
	task.UpdatedAt = now
	c.promoteDependentsLocked(task.ID, now)
	c.mu.Unlock()

	c.recovery.RecordAgentSuccess(agentID, now)
	c.publish(events.EventTaskCompleted, agentID, task.ID, "task completed")
}

// HandleTaskError marks a failed task outcome: it schedules an
// exponential-backoff retry if the task has attempts remaining and the
// agent reported the failure as retryable, else fails the task terminally.
// Either way the failure is reported to Failure Recovery.
func (c *Coordinator) HandleTaskError(agentID string, p coordserver.TaskErrorPayload) {
	c.mu.Lock()

	task, ok := c.tasks[p.TaskID]
	if !ok || task.Assignment == nil || task.Assignment.AgentID != agentID {
		c.mu.Unlock()
		return
	}
	agent := c.agents[agentID]
	now := time.Now()

	if agent != nil {
		loadbalancer.Deallocate(agent, task.RequiredResources)
		recordAgentTaskOutcome(agent, 0, false, now)
		if agent.State == types.AgentBusy && agent.TaskCount == 0 {
			agent.State = types.AgentIdle
		}
	}

	willRetry := p.Retryable && task.RetryCount < task.MaxRetries
	if willRetry {
		delay := baseRetryDelay * time.Duration(int64(1)<<uint(task.RetryCount))
		task.RetryCount++
		task.Status = types.TaskPending
		task.Assignment = nil
		task.SetRetryNotBefore(now.Add(delay))
	} else {
		task.Status = types.TaskFailed
		task.Assignment = nil
		task.Error = &types.TaskError{Message: p.ErrorMessage, Retryable: p.Retryable, Kind: types.FailureTaskError}
	}
	task.UpdatedAt = now
	c.mu.Unlock()

	severity := types.SeverityMedium
	if !willRetry {
		severity = types.SeverityHigh
	}
	c.recovery.RecordAgentFailure(agentID, now)
	c.recovery.ReportFailure(types.FailureTaskError, task.ID, types.EntityTask, severity,
		map[string]string{"agent_id": agentID, "message": p.ErrorMessage}, p.Retryable, now)
	c.publish(events.EventTaskFailed, agentID, task.ID, p.ErrorMessage)
}

// recordAgentTaskOutcome folds one task outcome into an agent's rolling
// performance metrics.
func recordAgentTaskOutcome(agent *types.Agent, execTime time.Duration, success bool, now time.Time) {
	m := &agent.Metrics
	m.TotalTasks++
	if success {
		m.Completed++
		m.TotalExecutionTime += execTime
		m.AverageExecTime = m.TotalExecutionTime / time.Duration(m.Completed)
		m.RecordCompletion(now)
	} else {
		m.Failed++
	}
	if m.TotalTasks > 0 {
		m.SuccessRate = float64(m.Completed) / float64(m.TotalTasks)
		m.ErrorRate = float64(m.Failed) / float64(m.TotalTasks)
	}
	loadbalancer.RecomputeLoad(agent)
}

// HandleStatusUpdate applies an unprompted agent state report, for states
// the worker protocol allows a worker to self-report (e.g. Paused).
func (c *Coordinator) HandleStatusUpdate(agentID string, p coordserver.StatusUpdatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[agentID]
	if !ok {
		return
	}
	switch types.AgentState(p.State) {
	case types.AgentIdle, types.AgentBusy, types.AgentPaused:
		agent.State = types.AgentState(p.State)
		agent.UpdatedAt = time.Now()
	}
}

// HandlePeerMessage forwards an agent-to-agent message verbatim.
func (c *Coordinator) HandlePeerMessage(agentID string, p coordserver.PeerMessagePayload) {
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = c.hub.Send(p.ToAgentID, &coordserver.Frame{Type: coordserver.FramePeerMessage, Payload: payload})
}

// HandleDisconnect records that agentID's socket dropped. The heartbeat
// scan, not the socket event itself, is what ultimately transitions a
// genuinely dead agent's state and reports the failure - a dropped
// connection can be a transient reconnect.
func (c *Coordinator) HandleDisconnect(agentID string) {
	c.publish(events.EventAgentUnreachable, agentID, "", "worker connection closed")
}
