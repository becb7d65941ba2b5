package orchestrator

import (
	"time"

	"github.com/cuemby/swarmd/pkg/events"
	"github.com/cuemby/swarmd/pkg/loadbalancer"
	"github.com/cuemby/swarmd/pkg/types"
)

// heartbeatScan marks an agent Failed once its last heartbeat is older
// than HeartbeatTimeout, and reports an AgentUnresponsive failure so
// Failure Recovery can restart it.
func (c *Coordinator) heartbeatScan() {
	now := time.Now()

	c.mu.Lock()
	var stale []string
	for id, a := range c.agents {
		if a.State == types.AgentTerminated || a.State == types.AgentFailed {
			continue
		}
		if a.Health.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(a.Health.LastHeartbeat) >= c.cfg.HeartbeatTimeout {
			a.State = types.AgentFailed
			a.UpdatedAt = now
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		c.publish(events.EventAgentFailed, id, "", "heartbeat timeout")
		c.recovery.RecordAgentFailure(id, now)
		c.recovery.ReportFailure(types.FailureAgentUnresponsive, id, types.EntityAgent, types.SeverityHigh, nil, false, now)
	}
}

// timedOutTask is one task whose assignment deadline passed, captured
// under lock so its Failure Recovery report can be sent without holding
// c.mu.
type timedOutTask struct {
	taskID    string
	agentID   string
	willRetry bool
}

// taskTimeoutScan finds Assigned/InProgress tasks whose assignment has
// run past its Timeout, releases the assignment, and either schedules a
// backoff retry (same formula as a reported task error) or fails the
// task terminally once its retry budget is exhausted.
func (c *Coordinator) taskTimeoutScan() {
	now := time.Now()

	c.mu.Lock()
	var due []timedOutTask
	for _, t := range c.tasks {
		if t.Assignment == nil || (t.Status != types.TaskAssigned && t.Status != types.TaskInProgress) {
			continue
		}
		if now.Before(t.Assignment.AssignedAt.Add(t.Assignment.Timeout)) {
			continue
		}

		agentID := t.Assignment.AgentID
		if agent, ok := c.agents[agentID]; ok {
			c.releaseAssignmentLocked(t, agent)
			if agent.State == types.AgentBusy && agent.TaskCount == 0 {
				agent.State = types.AgentIdle
			}
		}

		willRetry := t.RetryCount < t.MaxRetries
		if willRetry {
			delay := baseRetryDelay * time.Duration(int64(1)<<uint(t.RetryCount))
			t.RetryCount++
			t.Status = types.TaskPending
			t.Assignment = nil
			t.SetRetryNotBefore(now.Add(delay))
		} else {
			t.Status = types.TaskFailed
			t.Assignment = nil
			t.Error = &types.TaskError{Message: "task timed out", Kind: types.FailureTaskTimeout}
		}
		t.UpdatedAt = now
		due = append(due, timedOutTask{taskID: t.ID, agentID: agentID, willRetry: willRetry})
	}
	c.mu.Unlock()

	for _, d := range due {
		c.publish(events.EventTaskFailed, d.agentID, d.taskID, "task timed out")
		if d.willRetry {
			// Relocate's default strategy for a retryable timeout; the
			// same backoff-respecting check in executeRelocate keeps it
			// from bypassing the delay just scheduled above.
			c.recovery.ReportFailure(types.FailureTaskTimeout, d.taskID, types.EntityTask, types.SeverityMedium, nil, true, now)
		} else {
			// Retry budget exhausted: the task is already terminally
			// failed above, so the report targets the agent that kept
			// timing it out, degrading its scheduling weight rather than
			// touching the (already-resolved) task.
			c.recovery.ReportFailure(types.FailureTaskTimeout, d.agentID, types.EntityAgent, types.SeverityHigh, nil, false, now)
		}
	}
}

// healthCheck reclassifies each agent's coarse health level from its
// rolling performance metrics.
func (c *Coordinator) healthCheck() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range c.agents {
		if a.State == types.AgentTerminated {
			continue
		}
		a.Health.Status = classifyHealth(a.Metrics)
		a.Health.Issues = nil
		if a.Health.Status != types.HealthHealthy {
			a.Health.Issues = append(a.Health.Issues, "degraded performance metrics")
		}
		a.UpdatedAt = now
	}
}

// classifyHealth buckets an agent's rolling metrics into a coarse health
// level. An agent with no finished tasks yet (completed or failed) is
// assumed healthy.
func classifyHealth(m types.AgentMetrics) types.HealthLevel {
	if m.TotalTasks == 0 {
		return types.HealthHealthy
	}
	if m.SuccessRate < 0.5 || m.ErrorRate > 0.5 {
		return types.HealthUnhealthy
	}
	if m.SuccessRate < 0.8 || m.CurrentLoad > 0.85 {
		return types.HealthWarning
	}
	return types.HealthHealthy
}

// metricsRollup decays idle agents' throughput window and refreshes their
// load figure.
func (c *Coordinator) metricsRollup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range c.agents {
		a.Metrics.DecayThroughput(now)
		loadbalancer.RecomputeLoad(a)
	}
}

// circuitMaintenance re-attempts any recovery strategy retries whose
// backoff has elapsed. It must run without holding c.mu: a retried
// strategy's Execute call takes that lock itself.
func (c *Coordinator) circuitMaintenance() {
	c.recovery.ProcessDueRetries(time.Now())
}

// weightRecompute refreshes every agent's WeightedRoundRobin weight.
func (c *Coordinator) weightRecompute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	agents := make([]*types.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.balancer.RecomputeWeights(agents)
}
