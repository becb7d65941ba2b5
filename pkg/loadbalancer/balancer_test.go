package loadbalancer

import (
	"testing"

	"github.com/cuemby/swarmd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agentWithLoad(id string, load float64, taskCount int) *types.Agent {
	return &types.Agent{
		ID:        id,
		State:     types.AgentIdle,
		Health:    types.AgentHealth{Status: types.HealthHealthy},
		TaskCount: taskCount,
		Resources: map[types.ResourceKind]*types.ResourcePool{
			types.ResourceConcurrentTasks: {Total: 10, Available: 10},
		},
		Metrics: types.AgentMetrics{CurrentLoad: load},
	}
}

func simpleTask() *types.Task {
	return &types.Task{ID: "t1"}
}

func TestSelectLeastLoadedPicksMinimumLoad(t *testing.T) {
	agents := []*types.Agent{
		agentWithLoad("a", 0.8, 1),
		agentWithLoad("b", 0.2, 1),
		agentWithLoad("c", 0.5, 1),
	}

	b := New(types.StrategyLeastLoaded, nil, nil)
	chosen, ok := b.Select(simpleTask(), agents, nil)
	require.True(t, ok)
	assert.Equal(t, "b", chosen)
}

func TestSelectLeastLoadedTieBreaksByTaskCountThenID(t *testing.T) {
	agents := []*types.Agent{
		agentWithLoad("z", 0.5, 2),
		agentWithLoad("a", 0.5, 1),
		agentWithLoad("m", 0.5, 1),
	}

	b := New(types.StrategyLeastLoaded, nil, nil)
	chosen, ok := b.Select(simpleTask(), agents, nil)
	require.True(t, ok)
	assert.Equal(t, "a", chosen)
}

func TestSelectRoundRobinCyclesInIDOrder(t *testing.T) {
	agents := []*types.Agent{
		agentWithLoad("c", 0, 0),
		agentWithLoad("a", 0, 0),
		agentWithLoad("b", 0, 0),
	}

	b := New(types.StrategyRoundRobin, nil, nil)
	var picks []string
	for i := 0; i < 4; i++ {
		chosen, ok := b.Select(simpleTask(), agents, nil)
		require.True(t, ok)
		picks = append(picks, chosen)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, picks)
}

func TestSelectReturnsFalseWhenNoEligibleAgent(t *testing.T) {
	agents := []*types.Agent{
		{ID: "a", State: types.AgentTerminated},
	}

	b := New(types.StrategyLeastLoaded, nil, nil)
	_, ok := b.Select(simpleTask(), agents, nil)
	assert.False(t, ok)
}

func TestEligibilityExcludesCapacitySaturatedAgent(t *testing.T) {
	agent := agentWithLoad("a", 0, 2)
	agent.Resources[types.ResourceConcurrentTasks] = &types.ResourcePool{Total: 2, Available: 2}

	candidates := eligibleAgents([]*types.Agent{agent}, simpleTask(), nil, nil)
	assert.Empty(t, candidates)
}

func TestEligibilityExcludesOpenCircuit(t *testing.T) {
	agent := agentWithLoad("a", 0, 0)
	circuitOpen := func(agentID string) bool { return agentID == "a" }

	candidates := eligibleAgents([]*types.Agent{agent}, simpleTask(), nil, circuitOpen)
	assert.Empty(t, candidates)
}

func TestEligibilityRequiresAllCapabilities(t *testing.T) {
	agent := agentWithLoad("a", 0, 0)
	agent.Capabilities = map[string]struct{}{"gpu": {}}

	task := &types.Task{RequiredCapabilities: map[string]struct{}{"gpu": {}, "vision": {}}}

	candidates := eligibleAgents([]*types.Agent{agent}, task, nil, nil)
	assert.Empty(t, candidates)
}

func TestAllocateAndDeallocateRoundTrip(t *testing.T) {
	agent := agentWithLoad("a", 0, 0)
	agent.Resources[types.ResourceCPU] = &types.ResourcePool{Total: 4, Available: 4}

	req := map[types.ResourceKind]float64{types.ResourceCPU: 2}
	Allocate(agent, req)
	assert.Equal(t, 1, agent.TaskCount)
	assert.Equal(t, 2.0, agent.Resources[types.ResourceCPU].Available)
	assert.Greater(t, agent.Metrics.CurrentLoad, 0.0)

	Deallocate(agent, req)
	assert.Equal(t, 0, agent.TaskCount)
	assert.Equal(t, 4.0, agent.Resources[types.ResourceCPU].Available)
}

func TestWeightClampedToBounds(t *testing.T) {
	lowAgent := agentWithLoad("low", 1.0, 0)
	lowAgent.Health.Status = types.HealthUnhealthy
	lowAgent.Metrics.SuccessRate = 0
	lowAgent.Metrics.Throughput = 0

	w := computeWeight(lowAgent)
	assert.GreaterOrEqual(t, w, 0.1)
	assert.LessOrEqual(t, w, 1.0)

	highAgent := agentWithLoad("high", 0.0, 0)
	highAgent.Health.Status = types.HealthHealthy
	highAgent.Metrics.SuccessRate = 1.0
	highAgent.Metrics.Throughput = 20

	w = computeWeight(highAgent)
	assert.LessOrEqual(t, w, 1.0)
}

func TestPredictiveFallsBackWhenModelUnavailable(t *testing.T) {
	agents := []*types.Agent{
		agentWithLoad("a", 0.9, 0),
		agentWithLoad("b", 0.1, 0),
	}
	agents[1].Metrics.SuccessRate = 1.0

	b := New(types.StrategyPredictive, nil, nil)
	chosen, ok := b.Select(simpleTask(), agents, nil)
	require.True(t, ok)
	assert.Equal(t, "b", chosen)
}
