// Package loadbalancer selects an agent for a task among the Coordinator's
// registered agents, implementing the seven configurable selection
// strategies and the resource accounting that backs them.
package loadbalancer

import (
	"github.com/cuemby/swarmd/pkg/types"
)

// eligible reports whether agent may be selected for task, independent of
// strategy: matching state, health, capabilities, resources, concurrency
// headroom, and circuit breaker status.
func eligible(agent *types.Agent, task *types.Task, exclude map[string]struct{}, circuitOpen func(agentID string) bool) bool {
	if _, excluded := exclude[agent.ID]; excluded {
		return false
	}

	if agent.State != types.AgentIdle && agent.State != types.AgentBusy {
		return false
	}

	if agent.Health.Status == types.HealthUnhealthy {
		return false
	}

	for capability := range task.RequiredCapabilities {
		if _, ok := agent.Capabilities[capability]; !ok {
			return false
		}
	}

	for kind, amount := range task.RequiredResources {
		pool, ok := agent.Resources[kind]
		if !ok || pool.Available < amount {
			return false
		}
	}

	if concurrency, ok := agent.Resources[types.ResourceConcurrentTasks]; ok {
		if float64(agent.TaskCount) >= concurrency.Total {
			return false
		}
	}

	if circuitOpen != nil && circuitOpen(agent.ID) {
		return false
	}

	return true
}

// eligibleAgents filters agents down to those eligible for task.
func eligibleAgents(agents []*types.Agent, task *types.Task, exclude map[string]struct{}, circuitOpen func(agentID string) bool) []*types.Agent {
	var out []*types.Agent
	for _, agent := range agents {
		if eligible(agent, task, exclude, circuitOpen) {
			out = append(out, agent)
		}
	}
	return out
}

// healthScore maps an agent's health level to a [0,1] scalar used by the
// weighting formulas; healthy agents score highest.
func healthScore(h types.HealthLevel) float64 {
	switch h {
	case types.HealthHealthy:
		return 1.0
	case types.HealthWarning:
		return 0.5
	default:
		return 0.0
	}
}
