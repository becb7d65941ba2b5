package topology

import (
	"time"

	"github.com/cuemby/swarmd/pkg/types"
)

const (
	// DefaultAdaptationWindow is how often the adaptor compares the
	// current pattern's performance to historical alternatives.
	DefaultAdaptationWindow = 5 * time.Minute

	// DefaultAdaptationThreshold is the minimum projected improvement in
	// throughput*reliability required to switch patterns.
	DefaultAdaptationThreshold = 0.15

	// DefaultMaxAdaptationsPerHour bounds churn.
	DefaultMaxAdaptationsPerHour = 3
)

// PatternPerformance is one observed (throughput, reliability) sample for
// a pattern, used to project the improvement a candidate switch offers.
type PatternPerformance struct {
	Throughput  float64
	Reliability float64
}

func (p PatternPerformance) score() float64 {
	return p.Throughput * p.Reliability
}

// Adaptor drives automatic topology pattern changes when enabled,
// comparing the active pattern's recent performance to the best
// historical performance recorded for each alternative.
type Adaptor struct {
	graph *Graph

	Window           time.Duration
	Threshold        float64
	MaxPerHour       int

	bestHistorical map[types.TopologyPattern]PatternPerformance
	adaptations    []time.Time
}

// NewAdaptor constructs an Adaptor over graph with default tuning.
func NewAdaptor(graph *Graph) *Adaptor {
	return &Adaptor{
		graph:          graph,
		Window:         DefaultAdaptationWindow,
		Threshold:      DefaultAdaptationThreshold,
		MaxPerHour:     DefaultMaxAdaptationsPerHour,
		bestHistorical: make(map[types.TopologyPattern]PatternPerformance),
	}
}

// Observe records a performance sample for pattern, keeping only the best
// seen so far for comparison.
func (a *Adaptor) Observe(pattern types.TopologyPattern, perf PatternPerformance) {
	best, ok := a.bestHistorical[pattern]
	if !ok || perf.score() > best.score() {
		a.bestHistorical[pattern] = perf
	}
}

// MaybeAdapt compares current's performance against every pattern's best
// historical performance and switches if the projected improvement clears
// Threshold and the hourly adaptation budget isn't exhausted. It returns
// the pattern switched to, if any.
func (a *Adaptor) MaybeAdapt(now time.Time, current PatternPerformance, reason string) (types.TopologyPattern, bool) {
	a.pruneOldAdaptations(now)
	if len(a.adaptations) >= a.MaxPerHour {
		return "", false
	}

	currentScore := current.score()
	activePattern := a.graph.Pattern()

	var bestAlt types.TopologyPattern
	var bestImprovement float64

	for pattern, perf := range a.bestHistorical {
		if pattern == activePattern {
			continue
		}
		if currentScore <= 0 {
			continue
		}
		improvement := (perf.score() - currentScore) / currentScore
		if improvement > bestImprovement {
			bestImprovement = improvement
			bestAlt = pattern
		}
	}

	if bestAlt == "" || bestImprovement < a.Threshold {
		return "", false
	}

	if err := a.graph.ChangeTopology(bestAlt, reason); err != nil {
		return "", false
	}

	a.adaptations = append(a.adaptations, now)
	return bestAlt, true
}

func (a *Adaptor) pruneOldAdaptations(now time.Time) {
	cutoff := now.Add(-time.Hour)
	var kept []time.Time
	for _, t := range a.adaptations {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.adaptations = kept
}
