package predictive

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/swarmd/pkg/loadbalancer"
)

func TestAgentScorerFallsBackUntilMinSamples(t *testing.T) {
	s := NewAgentScorer()
	_, ok := s.PredictAgentScore(loadbalancer.AgentFeatures{SuccessRate: 0.9, ThroughputScore: 0.5, Load: 0.2, HealthScore: 1})
	assert.False(t, ok)

	for i := 0; i < MinTrainingSamples; i++ {
		s.Train(loadbalancer.AgentFeatures{SuccessRate: 0.9, ThroughputScore: 0.5, Load: 0.2, HealthScore: 1}, true)
	}

	score, ok := s.PredictAgentScore(loadbalancer.AgentFeatures{SuccessRate: 0.9, ThroughputScore: 0.5, Load: 0.2, HealthScore: 1})
	assert.True(t, ok)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestAgentScorerLearnsHigherScoreForSuccessfulFeatures(t *testing.T) {
	s := NewAgentScorer()
	good := loadbalancer.AgentFeatures{SuccessRate: 1, ThroughputScore: 1, Load: 0, HealthScore: 1}
	bad := loadbalancer.AgentFeatures{SuccessRate: 0, ThroughputScore: 0, Load: 1, HealthScore: 0}

	for i := 0; i < MinTrainingSamples*3; i++ {
		s.Train(good, true)
		s.Train(bad, false)
	}

	goodScore, _ := s.PredictAgentScore(good)
	badScore, _ := s.PredictAgentScore(bad)
	assert.Greater(t, goodScore, badScore)
}

func TestConnectionScorerReturnsZeroWithoutLookup(t *testing.T) {
	s := NewConnectionScorer()
	assert.Zero(t, s.PredictConnection("a", "b"))
}

func TestConnectionScorerReturnsZeroBeforeMinSamples(t *testing.T) {
	s := NewConnectionScorer()
	s.Lookup = func(newID, existingID string) ConnectionFeatures {
		return ConnectionFeatures{SharedCapabilities: 1, ExistingHealth: 1, DegreeHeadroom: 1}
	}
	assert.Zero(t, s.PredictConnection("a", "b"))
}

func TestConnectionScorerLearnsHigherScoreForUsefulFeatures(t *testing.T) {
	s := NewConnectionScorer()
	s.Lookup = func(newID, existingID string) ConnectionFeatures {
		return ConnectionFeatures{}
	}

	useful := ConnectionFeatures{SharedCapabilities: 1, ExistingHealth: 1, DegreeHeadroom: 1}
	notUseful := ConnectionFeatures{SharedCapabilities: 0, ExistingLoad: 1, ExistingHealth: 0, DegreeHeadroom: 0}

	for i := 0; i < MinTrainingSamples*3; i++ {
		s.Train(useful, true)
		s.Train(notUseful, false)
	}

	s.Lookup = func(newID, existingID string) ConnectionFeatures { return useful }
	usefulScore := s.PredictConnection("a", "b")
	s.Lookup = func(newID, existingID string) ConnectionFeatures { return notUseful }
	notUsefulScore := s.PredictConnection("a", "b")

	assert.Greater(t, usefulScore, notUsefulScore)
}
