// Package predictive implements the CORE specification's two placeholder
// learning surfaces: an agent-selection scorer consumed by the Load
// Balancer's Predictive strategy, and a topology connection-probability
// scorer consumed by the Topology Manager's Dynamic pattern. Both are
// online logistic models updated from the completion/failure stream.
// Until they have seen MinTrainingSamples, the agent scorer reports
// ok=false and the connection scorer returns 0, so callers use their
// deterministic fallback.
package predictive

import (
	"math"
	"sync"

	"github.com/cuemby/swarmd/pkg/loadbalancer"
)

// MinTrainingSamples is how many (features, outcome) pairs the agent
// scorer requires before it trusts its own prediction over the
// PerformanceBased fallback.
const MinTrainingSamples = 20

// initialAgentWeights are the linear model's starting coefficients over
// (successRate, throughputScore, load, healthScore, bias). Load carries a
// negative weight: higher load should lower the score.
var initialAgentWeights = [5]float64{0.4, 0.2, -0.3, 0.3, 0.1}

const agentLearningRate = 0.05

// AgentScorer is an online linear model implementing
// loadbalancer.Predictor.
type AgentScorer struct {
	mu      sync.Mutex
	weights [5]float64
	samples int
}

// NewAgentScorer constructs a scorer seeded with a reasonable prior so
// early predictions (once MinTrainingSamples is reached) aren't random.
func NewAgentScorer() *AgentScorer {
	return &AgentScorer{weights: initialAgentWeights}
}

// PredictAgentScore implements loadbalancer.Predictor.
func (s *AgentScorer) PredictAgentScore(features loadbalancer.AgentFeatures) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.samples < MinTrainingSamples {
		return 0, false
	}
	return s.score(features), true
}

func (s *AgentScorer) score(f loadbalancer.AgentFeatures) float64 {
	w := s.weights
	x := [5]float64{f.SuccessRate, f.ThroughputScore, f.Load, f.HealthScore, 1}
	var sum float64
	for i, xi := range x {
		sum += w[i] * xi
	}
	return clamp01(sigmoid(sum))
}

// Train records one outcome sample and nudges the weights toward it via a
// single step of online gradient descent on logistic loss.
func (s *AgentScorer) Train(features loadbalancer.AgentFeatures, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := 0.0
	if success {
		target = 1.0
	}

	x := [5]float64{features.SuccessRate, features.ThroughputScore, features.Load, features.HealthScore, 1}
	var sum float64
	for i, xi := range x {
		sum += s.weights[i] * xi
	}
	predicted := sigmoid(sum)
	errTerm := target - predicted

	for i, xi := range x {
		s.weights[i] += agentLearningRate * errTerm * xi
	}
	s.samples++
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
