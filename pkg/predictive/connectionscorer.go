package predictive

import (
	"math"
	"sync"
)

// ConnectionFeatures are the per-candidate inputs the Dynamic topology
// pattern scores a prospective edge on.
type ConnectionFeatures struct {
	SharedCapabilities float64 // fraction of newID's capabilities existingID also has
	ExistingLoad       float64
	ExistingHealth     float64
	DegreeHeadroom     float64 // 1 - (existingID's current degree / agent count)
}

var initialConnectionWeights = [5]float64{0.5, -0.2, 0.3, 0.2, 0.1}

const connectionLearningRate = 0.05

// ConnectionScorer is an online linear model implementing
// topology.ConnectionPredictor over a feature lookup rather than raw IDs;
// PredictConnection adapts IDs to ConnectionFeatures through the Lookup
// field, which callers set.
type ConnectionScorer struct {
	mu      sync.Mutex
	weights [5]float64
	samples int

	// Lookup resolves an (newID, existingID) pair to the feature vector
	// the model scores. Nothing in this module sets it; while it is nil,
	// PredictConnection returns 0.
	Lookup func(newID, existingID string) ConnectionFeatures
}

// NewConnectionScorer constructs a scorer seeded with a reasonable prior.
func NewConnectionScorer() *ConnectionScorer {
	return &ConnectionScorer{weights: initialConnectionWeights}
}

// PredictConnection implements topology.ConnectionPredictor. Until Lookup
// is wired, or until MinTrainingSamples have been trained, it returns 0 so
// the Dynamic pattern's fallback-to-best-candidate behavior engages
// without ever reporting a false above-threshold connection.
func (s *ConnectionScorer) PredictConnection(newID, existingID string) float64 {
	if s.Lookup == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples < MinTrainingSamples {
		return 0
	}
	return s.score(s.Lookup(newID, existingID))
}

func (s *ConnectionScorer) score(f ConnectionFeatures) float64 {
	w := s.weights
	x := [5]float64{f.SharedCapabilities, f.ExistingLoad, f.ExistingHealth, f.DegreeHeadroom, 1}
	var sum float64
	for i, xi := range x {
		sum += w[i] * xi
	}
	return clamp01(1 / (1 + math.Exp(-sum)))
}

// Train records one outcome sample (did the connection turn out useful,
// e.g. the two agents frequently collaborated successfully) and nudges the
// weights via one step of online gradient descent on logistic loss.
func (s *ConnectionScorer) Train(features ConnectionFeatures, useful bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := 0.0
	if useful {
		target = 1.0
	}

	x := [5]float64{features.SharedCapabilities, features.ExistingLoad, features.ExistingHealth, features.DegreeHeadroom, 1}
	var sum float64
	for i, xi := range x {
		sum += s.weights[i] * xi
	}
	predicted := 1 / (1 + math.Exp(-sum))
	errTerm := target - predicted

	for i, xi := range x {
		s.weights[i] += connectionLearningRate * errTerm * xi
	}
	s.samples++
}
