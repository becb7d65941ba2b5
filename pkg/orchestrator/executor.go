package orchestrator

import (
	"fmt"
	"time"

	"github.com/cuemby/swarmd/pkg/coordserver"
	"github.com/cuemby/swarmd/pkg/log"
	"github.com/cuemby/swarmd/pkg/types"
)

// Execute applies strategy to the entity named in rec, satisfying
// recovery.StrategyExecutor. It is always invoked with the Coordinator's
// own mutex free, so every case is free to take it.
func (c *Coordinator) Execute(rec *types.FailureRecord, strategy types.RecoveryStrategy) error {
	switch strategy {
	case types.StrategyRestart:
		return c.executeRestart(rec)
	case types.StrategyRelocate:
		return c.executeRelocate(rec)
	case types.StrategyScaleUp, types.StrategyScaleDown:
		return c.executeScale(rec, strategy)
	case types.StrategyIsolate:
		return c.executeIsolate(rec)
	case types.StrategyCircuitBreak:
		return nil // the breaker itself already tripped via RecordAgentFailure
	case types.StrategyGracefulDegradation:
		return c.executeGracefulDegradation(rec)
	case types.StrategyEmergencyStop:
		return c.executeEmergencyStop(rec)
	default:
		return fmt.Errorf("unrecognized recovery strategy %q", strategy)
	}
}

// executeRestart tears down a failed agent. Actually launching its
// replacement process is outside this coordinator's scope; the caller
// that originally spawned the agent is expected to notice its
// termination and re-spawn.
func (c *Coordinator) executeRestart(rec *types.FailureRecord) error {
	if rec.EntityKind != types.EntityAgent {
		return nil
	}
	if err := c.TerminateAgent(rec.EntityID); err != nil {
		return err
	}
	return nil
}

// executeRelocate pulls a failed task off its current assignment and
// returns it to the queue, so the next dispatch cycle picks a different
// agent; the failing agent's circuit breaker (tripped separately by
// RecordAgentFailure) is what keeps it from being re-selected immediately.
func (c *Coordinator) executeRelocate(rec *types.FailureRecord) error {
	if rec.EntityKind != types.EntityTask {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[rec.EntityID]
	if !ok || t.Status.IsTerminal() {
		return nil
	}
	now := time.Now()
	if rnb := t.RetryNotBefore(); !rnb.IsZero() && now.Before(rnb) {
		// Already scheduled for its own backoff-governed retry; let the
		// dispatch loop's retry scan requeue it when that elapses instead
		// of short-circuiting the delay here.
		return nil
	}
	if t.Assignment != nil {
		if agent, ok := c.agents[t.Assignment.AgentID]; ok {
			c.releaseAssignmentLocked(t, agent)
		}
	}
	t.Assignment = nil
	t.Status = types.TaskPending
	c.promoteIfEligibleLocked(t, now)
	return nil
}

// executeScale is a no-op: the coordinator tracks agent capacity but does
// not itself own a process supervisor capable of spawning or retiring
// worker fleets. It logs so an operator watching the cascade can react.
func (c *Coordinator) executeScale(rec *types.FailureRecord, strategy types.RecoveryStrategy) error {
	log.WithComponent("recovery").Warn().
		Str("record_id", rec.ID).
		Str("entity_id", rec.EntityID).
		Str("strategy", string(strategy)).
		Msg("scale strategy requires an external supervisor; no action taken")
	return nil
}

// executeIsolate pauses a misbehaving agent, removing it from selection
// eligibility without terminating it outright.
func (c *Coordinator) executeIsolate(rec *types.FailureRecord) error {
	if rec.EntityKind != types.EntityAgent {
		return nil
	}
	c.mu.Lock()
	agent, ok := c.agents[rec.EntityID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	agent.State = types.AgentPaused
	agent.UpdatedAt = time.Now()
	c.mu.Unlock()

	_ = c.hub.Send(rec.EntityID, &coordserver.Frame{Type: coordserver.FramePause})
	return nil
}

// executeGracefulDegradation halves an agent's scheduling weight rather
// than removing it from rotation outright.
func (c *Coordinator) executeGracefulDegradation(rec *types.FailureRecord) error {
	if rec.EntityKind != types.EntityAgent {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[rec.EntityID]
	if !ok {
		return nil
	}
	agent.Weight *= 0.5
	if agent.Weight < 0.1 {
		agent.Weight = 0.1
	}
	agent.UpdatedAt = time.Now()
	return nil
}

// executeEmergencyStop pauses every connected agent. Dispatch itself
// already stops admitting new assignments while the recovery manager
// reports InSafeMode.
func (c *Coordinator) executeEmergencyStop(rec *types.FailureRecord) error {
	c.mu.Lock()
	agentIDs := make([]string, 0, len(c.agents))
	for id := range c.agents {
		agentIDs = append(agentIDs, id)
	}
	c.mu.Unlock()

	for _, id := range agentIDs {
		_ = c.hub.Send(id, &coordserver.Frame{Type: coordserver.FramePause})
	}
	log.WithComponent("recovery").Error().Str("record_id", rec.ID).Msg("emergency stop: swarm entering safe mode")
	return nil
}
