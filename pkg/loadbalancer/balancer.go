package loadbalancer

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/swarmd/pkg/types"
)

// AgentFeatures is the scalar feature vector strategies and the
// predictive model score agents on.
type AgentFeatures struct {
	SuccessRate      float64
	ThroughputScore  float64 // min(throughput/10, 1)
	Load             float64
	HealthScore      float64
}

// Predictor scores an agent's features for the Predictive strategy. If no
// Predictor is configured, or it returns ok=false, Select falls back to
// PerformanceBased scoring.
type Predictor interface {
	PredictAgentScore(features AgentFeatures) (score float64, ok bool)
}

// CircuitChecker reports whether an agent's circuit breaker is open,
// making it ineligible for selection regardless of strategy.
type CircuitChecker func(agentID string) bool

// Balancer selects an eligible agent for a task under one configured
// strategy.
type Balancer struct {
	mu       sync.Mutex
	strategy types.LBStrategy
	rrIndex  int
	weights  map[string]float64
	predict  Predictor
	circuit  CircuitChecker
}

// New constructs a Balancer running strategy. predictor and circuit may be
// nil; Predictive falls back to PerformanceBased and every agent is
// treated as circuit-closed, respectively.
func New(strategy types.LBStrategy, predictor Predictor, circuit CircuitChecker) *Balancer {
	return &Balancer{
		strategy: strategy,
		weights:  make(map[string]float64),
		predict:  predictor,
		circuit:  circuit,
	}
}

// SetStrategy swaps the active strategy at runtime.
func (b *Balancer) SetStrategy(strategy types.LBStrategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategy = strategy
}

// Select returns the chosen agent's ID, or ok=false if no agent is
// eligible (⊥ per the Load Balancer contract).
func (b *Balancer) Select(task *types.Task, agents []*types.Agent, exclude map[string]struct{}) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := eligibleAgents(agents, task, exclude, b.circuit)
	if len(candidates) == 0 {
		return "", false
	}

	switch b.strategy {
	case types.StrategyRoundRobin:
		return b.selectRoundRobin(candidates), true
	case types.StrategyLeastLoaded:
		return selectLeastLoaded(candidates), true
	case types.StrategyWeightedRoundRobin:
		return b.selectWeightedRoundRobin(candidates), true
	case types.StrategyResourceAware:
		return selectResourceAware(candidates, task), true
	case types.StrategyPerformanceBased:
		return selectPerformanceBased(candidates), true
	case types.StrategyPredictive:
		return b.selectPredictive(candidates), true
	case types.StrategyAdaptive:
		return selectAdaptive(candidates, task), true
	default:
		return selectPerformanceBased(candidates), true
	}
}

func (b *Balancer) selectRoundRobin(agents []*types.Agent) string {
	sorted := append([]*types.Agent(nil), agents...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	idx := b.rrIndex % len(sorted)
	b.rrIndex++
	return sorted[idx].ID
}

func selectLeastLoaded(agents []*types.Agent) string {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.Metrics.CurrentLoad < best.Metrics.CurrentLoad ||
			(a.Metrics.CurrentLoad == best.Metrics.CurrentLoad && a.TaskCount < best.TaskCount) ||
			(a.Metrics.CurrentLoad == best.Metrics.CurrentLoad && a.TaskCount == best.TaskCount && a.ID < best.ID) {
			best = a
		}
	}
	return best.ID
}

// computeWeight implements the WeightedRoundRobin weight formula, clamped
// to [0.1, 1.0]. Recomputation on a 60s cadence is the caller's
// responsibility (see RecomputeWeights).
func computeWeight(a *types.Agent) float64 {
	w := 0.5 +
		0.4*a.Metrics.SuccessRate +
		0.2*healthScore(a.Health.Status) +
		0.2*(1-a.Metrics.CurrentLoad) +
		0.2*math.Min(a.Metrics.Throughput/10, 1)

	if w < 0.1 {
		return 0.1
	}
	if w > 1.0 {
		return 1.0
	}
	return w
}

// RecomputeWeights refreshes the cached WeightedRoundRobin weight for
// every agent. Call on a 60s timer.
func (b *Balancer) RecomputeWeights(agents []*types.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range agents {
		a.Weight = computeWeight(a)
		b.weights[a.ID] = a.Weight
	}
}

func (b *Balancer) selectWeightedRoundRobin(agents []*types.Agent) string {
	total := 0.0
	for _, a := range agents {
		w, ok := b.weights[a.ID]
		if !ok {
			w = computeWeight(a)
		}
		total += w
	}
	if total <= 0 {
		return selectLeastLoaded(agents)
	}

	// Deterministic weighted selection keyed off the round-robin cursor so
	// repeated calls cycle through agents proportional to weight without
	// requiring a random source.
	target := total * (float64(b.rrIndex%1000) / 1000.0)
	b.rrIndex++

	sorted := append([]*types.Agent(nil), agents...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	cursor := 0.0
	for _, a := range sorted {
		w, ok := b.weights[a.ID]
		if !ok {
			w = computeWeight(a)
		}
		cursor += w
		if target <= cursor {
			return a.ID
		}
	}
	return sorted[len(sorted)-1].ID
}

func resourceAwareScore(a *types.Agent, task *types.Task) float64 {
	kinds := make([]types.ResourceKind, 0, len(task.RequiredResources))
	for k := range task.RequiredResources {
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		for k := range a.Resources {
			kinds = append(kinds, k)
		}
	}

	var sum float64
	var n int
	for _, k := range kinds {
		pool, ok := a.Resources[k]
		if !ok || pool.Total == 0 {
			continue
		}
		sum += (pool.Total - pool.Available) / pool.Total
		n++
	}

	var utilization float64
	if n > 0 {
		utilization = sum / float64(n)
	}

	return 0.7*(1-utilization) + 0.3*(1-a.Metrics.CurrentLoad)
}

func selectResourceAware(agents []*types.Agent, task *types.Task) string {
	best := agents[0]
	bestScore := resourceAwareScore(best, task)
	for _, a := range agents[1:] {
		score := resourceAwareScore(a, task)
		if score > bestScore || (score == bestScore && a.ID < best.ID) {
			best = a
			bestScore = score
		}
	}
	return best.ID
}

func performanceScore(a *types.Agent) float64 {
	avgExecMs := float64(a.Metrics.AverageExecTime.Milliseconds())
	execScore := 1.0
	if avgExecMs > 0 {
		execScore = math.Min(10000/avgExecMs, 1)
	}

	return 0.4*a.Metrics.SuccessRate +
		0.3*math.Min(a.Metrics.Throughput/10, 1) +
		0.2*execScore +
		0.1*healthScore(a.Health.Status)
}

func selectPerformanceBased(agents []*types.Agent) string {
	best := agents[0]
	bestScore := performanceScore(best)
	for _, a := range agents[1:] {
		score := performanceScore(a)
		if score > bestScore || (score == bestScore && a.ID < best.ID) {
			best = a
			bestScore = score
		}
	}
	return best.ID
}

func features(a *types.Agent) AgentFeatures {
	return AgentFeatures{
		SuccessRate:     a.Metrics.SuccessRate,
		ThroughputScore: math.Min(a.Metrics.Throughput/10, 1),
		Load:            a.Metrics.CurrentLoad,
		HealthScore:     healthScore(a.Health.Status),
	}
}

func (b *Balancer) selectPredictive(agents []*types.Agent) string {
	if b.predict == nil {
		return selectPerformanceBased(agents)
	}

	best := agents[0]
	bestScore, ok := b.predict.PredictAgentScore(features(best))
	if !ok {
		return selectPerformanceBased(agents)
	}

	for _, a := range agents[1:] {
		score, ok := b.predict.PredictAgentScore(features(a))
		if !ok {
			return selectPerformanceBased(agents)
		}
		if score > bestScore || (score == bestScore && a.ID < best.ID) {
			best = a
			bestScore = score
		}
	}
	return best.ID
}

func selectAdaptive(agents []*types.Agent, task *types.Task) string {
	votes := make(map[string]float64)
	votes[selectLeastLoaded(agents)] += 0.3
	votes[selectResourceAware(agents, task)] += 0.3
	votes[selectPerformanceBased(agents)] += 0.4

	var winner string
	var winnerVotes float64 = -1
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		v := votes[id]
		if v > winnerVotes {
			winner = id
			winnerVotes = v
		}
	}
	return winner
}

// Deallocate reverses the resource accounting Select's caller applied on
// dispatch: it releases required resources back to available and
// decrements taskCount, clamped so available never exceeds total.
func Deallocate(agent *types.Agent, resources map[types.ResourceKind]float64) {
	for kind, amount := range resources {
		pool, ok := agent.Resources[kind]
		if !ok {
			continue
		}
		pool.Available += amount
		if pool.Available > pool.Total {
			pool.Available = pool.Total
		}
	}
	if agent.TaskCount > 0 {
		agent.TaskCount--
	}
	RecomputeLoad(agent)
}

// Allocate applies the resource accounting for a successful Select: it
// decrements each required resource's available amount and increments
// taskCount.
func Allocate(agent *types.Agent, resources map[types.ResourceKind]float64) {
	for kind, amount := range resources {
		pool, ok := agent.Resources[kind]
		if !ok {
			continue
		}
		pool.Available -= amount
		if pool.Available < 0 {
			pool.Available = 0
		}
	}
	agent.TaskCount++
	RecomputeLoad(agent)
}

// RecomputeLoad updates an agent's CurrentLoad from its resource pools.
// Callers also invoke this on a 30s timer independent of accounting
// changes.
func RecomputeLoad(agent *types.Agent) {
	if len(agent.Resources) == 0 {
		agent.Metrics.CurrentLoad = 0
		return
	}

	var sum float64
	for _, pool := range agent.Resources {
		if pool.Total == 0 {
			continue
		}
		sum += (pool.Total - pool.Available) / pool.Total
	}
	agent.Metrics.CurrentLoad = sum / float64(len(agent.Resources))
	agent.UpdatedAt = time.Now()
}
