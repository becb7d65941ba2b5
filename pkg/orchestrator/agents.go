package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/swarmd/pkg/coordserver"
	"github.com/cuemby/swarmd/pkg/events"
	"github.com/cuemby/swarmd/pkg/swarmerr"
	"github.com/cuemby/swarmd/pkg/types"
)

// SpawnAgent records an expected worker and blocks until it registers or
// SpawnTimeout elapses. Actually launching the worker process is outside
// the CORE's scope (the worker is treated as an opaque endpoint); a
// process-supervising caller should launch it using the returned AgentId
// for the worker's register frame.
func (c *Coordinator) SpawnAgent(spec AgentSpec) (string, error) {
	c.mu.Lock()
	if len(c.agents) >= c.cfg.MaxAgents {
		c.mu.Unlock()
		return "", fmt.Errorf("agent count at max %d: %w", c.cfg.MaxAgents, swarmerr.ErrCapacity)
	}

	agentID := uuid.NewString()
	now := time.Now()
	agent := &types.Agent{
		ID:           agentID,
		Kind:         spec.Kind,
		Capabilities: toSet(spec.Capabilities),
		Resources:    toResourcePools(spec.Resources),
		State:        types.AgentInitializing,
		Weight:       1.0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.agents[agentID] = agent

	done := make(chan error, 1)
	c.pendingSpawns[agentID] = &pendingSpawn{agentID: agentID, done: done}
	c.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
		return agentID, nil
	case <-time.After(c.cfg.SpawnTimeout):
		c.mu.Lock()
		delete(c.pendingSpawns, agentID)
		if a, ok := c.agents[agentID]; ok && a.State == types.AgentInitializing {
			a.State = types.AgentFailed
			a.UpdatedAt = time.Now()
		}
		c.mu.Unlock()
		return "", fmt.Errorf("agent did not register within %s: %w", c.cfg.SpawnTimeout, swarmerr.ErrSpawn)
	}
}

// TerminateAgent marks agentID Terminated, reassigns its non-terminal
// tasks back to Pending, releases resources, queues a shutdown frame to
// the agent, and removes it from the topology. It does not close the
// agent's connection itself.
func (c *Coordinator) TerminateAgent(agentID string) error {
	c.mu.Lock()

	agent, ok := c.agents[agentID]
	if !ok || agent.State == types.AgentTerminated {
		c.mu.Unlock()
		return fmt.Errorf("agent %s: %w", agentID, swarmerr.ErrNotFound)
	}

	for _, t := range c.tasks {
		if t.Assignment != nil && t.Assignment.AgentID == agentID && !t.Status.IsTerminal() {
			c.releaseAssignmentLocked(t, agent)
			t.Status = types.TaskPending
			t.Assignment = nil
			t.UpdatedAt = time.Now()
		}
	}

	agent.State = types.AgentTerminated
	agent.UpdatedAt = time.Now()
	c.mu.Unlock()

	_ = c.hub.Send(agentID, &coordserver.Frame{Type: coordserver.FrameShutdown})
	c.topo.RemoveAgent(agentID)
	c.publish(events.EventAgentTerminated, agentID, "", "agent terminated")
	return nil
}

// GetAgent returns a read-only view of agentID.
func (c *Coordinator) GetAgent(agentID string) (AgentView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[agentID]
	if !ok {
		return AgentView{}, fmt.Errorf("agent %s: %w", agentID, swarmerr.ErrNotFound)
	}
	return newAgentView(a), nil
}

// ListAgentViews returns every agent matching filter, as read-only views.
func (c *Coordinator) ListAgentViews(filter AgentFilter) []AgentView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AgentView, 0, len(c.agents))
	for _, a := range c.agents {
		if filter.State != nil && a.State != *filter.State {
			continue
		}
		out = append(out, newAgentView(a))
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

func toResourcePools(amounts map[types.ResourceKind]float64) map[types.ResourceKind]*types.ResourcePool {
	out := make(map[types.ResourceKind]*types.ResourcePool, len(amounts))
	for k, v := range amounts {
		out[k] = &types.ResourcePool{Total: v, Available: v}
	}
	return out
}
