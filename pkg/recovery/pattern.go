package recovery

import (
	"sort"
	"strings"
	"time"

	"github.com/cuemby/swarmd/pkg/types"
)

// DefaultPatternOccurrenceThreshold is how many times a projected pattern
// must recur before it overrides the default strategy mapping.
const DefaultPatternOccurrenceThreshold = 3

// patternKey is the projection {kind, entityKind, severity, hourOfDay,
// dayOfWeek, contextKeys} a failure is reduced to for recurrence tracking.
type patternKey struct {
	kind       types.FailureKind
	entityKind types.EntityKind
	severity   types.Severity
	hourOfDay  int
	dayOfWeek  time.Weekday
	contextKey string // sorted context keys, joined
}

func projectPattern(rec *types.FailureRecord) patternKey {
	keys := make([]string, 0, len(rec.Context))
	for k := range rec.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return patternKey{
		kind:       rec.Kind,
		entityKind: rec.EntityKind,
		severity:   rec.Severity,
		hourOfDay:  rec.Timestamp.Hour(),
		dayOfWeek:  rec.Timestamp.Weekday(),
		contextKey: strings.Join(keys, ","),
	}
}

// patternTable tracks recurrence counts and, once a pattern clears the
// occurrence threshold, the strategy learned for it.
type patternTable struct {
	counts    map[patternKey]int
	learned   map[patternKey]types.RecoveryStrategy
	threshold int
}

func newPatternTable() *patternTable {
	return &patternTable{
		counts:    make(map[patternKey]int),
		learned:   make(map[patternKey]types.RecoveryStrategy),
		threshold: DefaultPatternOccurrenceThreshold,
	}
}

// observe records rec's projection and, once it recurs, binds strategy as
// the learned override for that pattern going forward.
func (p *patternTable) observe(rec *types.FailureRecord, strategy types.RecoveryStrategy) {
	key := projectPattern(rec)
	p.counts[key]++
	if p.counts[key] >= p.threshold {
		p.learned[key] = strategy
	}
}

// lookup returns the learned strategy for rec's pattern, if any.
func (p *patternTable) lookup(rec *types.FailureRecord) (types.RecoveryStrategy, bool) {
	strategy, ok := p.learned[projectPattern(rec)]
	return strategy, ok
}
