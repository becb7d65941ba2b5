// Package recovery classifies observed failures, drives the matching
// recovery strategy, tracks per-agent circuit breakers, and detects
// cascading failure windows that force the swarm into a safe mode.
package recovery

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/swarmd/pkg/log"
	"github.com/cuemby/swarmd/pkg/types"
)

// DefaultMaxAttempts bounds how many times a recovery strategy itself is
// retried with backoff before the entity is quarantined.
const DefaultMaxAttempts = 3

// DefaultBaseBackoff is the base delay in the strategy-retry backoff
// formula baseBackoff*2^attempt.
const DefaultBaseBackoff = 5 * time.Second

// StrategyExecutor applies a recovery strategy to a failed entity. It
// returns an error if the strategy itself could not be carried out (e.g. a
// Restart could not terminate the failed agent), distinct from the failure
// being recovered from.
type StrategyExecutor interface {
	Execute(rec *types.FailureRecord, strategy types.RecoveryStrategy) error
}

type pendingRetry struct {
	recordID string
	strategy types.RecoveryStrategy
	attempt  int
	dueAt    time.Time
}

// Manager is the Failure Recovery component: one per swarm.
type Manager struct {
	mu sync.Mutex

	executor StrategyExecutor

	records map[string]*types.FailureRecord
	pending []pendingRetry

	breakers *circuitBreakers
	cascade  *cascadeTracker
	patterns *patternTable

	safeMode    bool
	maxAttempts int
	baseBackoff time.Duration
}

// NewManager constructs a Manager that delegates strategy execution to
// executor.
func NewManager(executor StrategyExecutor) *Manager {
	return &Manager{
		executor:    executor,
		records:     make(map[string]*types.FailureRecord),
		breakers:    newCircuitBreakers(),
		cascade:     newCascadeTracker(),
		patterns:    newPatternTable(),
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
	}
}

// ReportFailure records a new failure and immediately attempts the
// indicated (or pattern-learned) recovery strategy. retryable only affects
// TaskTimeout's default mapping (Relocate vs GracefulDegradation); it is
// ignored for every other kind.
//
// m.mu is never held across the call into attemptStrategy: the executor it
// invokes (the Coordinator) takes its own mutex, and the Coordinator's
// dispatch loop and Metrics take that mutex before ever touching this
// Manager's state, so holding both at once in opposite orders would
// deadlock.
func (m *Manager) ReportFailure(kind types.FailureKind, entityID string, entityKind types.EntityKind, severity types.Severity, context map[string]string, retryable bool, now time.Time) *types.FailureRecord {
	m.mu.Lock()
	rec := m.newRecordLocked(kind, entityID, entityKind, severity, context, now)
	cascadeTriggered := kind != types.FailureCascadingFailure && m.cascade.observe(now)
	var cascadeRec *types.FailureRecord
	if cascadeTriggered {
		cascadeRec = m.newRecordLocked(types.FailureCascadingFailure, entityID, types.EntitySwarm, types.SeverityCritical, nil, now)
		m.cascade.reset()
	}
	m.mu.Unlock()

	if cascadeTriggered {
		log.WithComponent("recovery").Warn().Str("trigger_entity", entityID).Msg("cascade window threshold reached, emitting synthetic failure")
		m.attemptStrategy(cascadeRec, types.StrategyEmergencyStop, now)
	}

	m.mu.Lock()
	safeMode := m.safeMode
	if safeMode {
		rec.Status = types.RecordOpen
	}
	m.mu.Unlock()
	if safeMode {
		return rec
	}

	strategy := defaultStrategy(rec, retryable)
	m.mu.Lock()
	if learned, ok := m.patterns.lookup(rec); ok {
		strategy = learned
	}
	m.mu.Unlock()

	m.attemptStrategy(rec, strategy, now)
	return rec
}

func (m *Manager) newRecordLocked(kind types.FailureKind, entityID string, entityKind types.EntityKind, severity types.Severity, context map[string]string, now time.Time) *types.FailureRecord {
	rec := &types.FailureRecord{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityID:   entityID,
		EntityKind: entityKind,
		Severity:   severity,
		Context:    context,
		Timestamp:  now,
		Status:     types.RecordOpen,
	}
	m.records[rec.ID] = rec
	return rec
}

// attemptStrategy records the attempt, invokes the executor with m.mu
// released, and folds the outcome back in. It must never be called with
// m.mu held: Execute calls back into the Coordinator, which takes its own
// mutex, and the Coordinator's dispatch loop and Metrics take that mutex
// before calling back into this Manager - holding both at once in
// opposite orders would deadlock.
func (m *Manager) attemptStrategy(rec *types.FailureRecord, strategy types.RecoveryStrategy, now time.Time) {
	m.mu.Lock()
	rec.Attempts++
	rec.Actions = append(rec.Actions, strategy)
	rec.Status = types.RecordRetrying
	if strategy == types.StrategyEmergencyStop {
		m.safeMode = true
	}
	m.mu.Unlock()

	err := m.executor.Execute(rec, strategy)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		rec.Status = types.RecordResolved
		rec.Resolved = true
		rec.ResolvedAt = now
		m.patterns.observe(rec, strategy)
		return
	}

	log.WithComponent("recovery").Error().Err(err).Str("record_id", rec.ID).Str("strategy", string(strategy)).Msg("recovery strategy failed")

	if rec.Attempts >= m.maxAttempts {
		rec.Status = types.RecordQuarantined
		return
	}

	delay := m.baseBackoff * time.Duration(1<<uint(rec.Attempts))
	m.pending = append(m.pending, pendingRetry{
		recordID: rec.ID,
		strategy: strategy,
		attempt:  rec.Attempts,
		dueAt:    now.Add(delay),
	})
}

// ProcessDueRetries re-attempts any pending strategy retries whose backoff
// has elapsed as of now. The Manager runs no timer of its own: callers
// pass now explicitly (the orchestrator calls this from its periodic
// circuit-maintenance timer), keeping retry timing test-controllable.
func (m *Manager) ProcessDueRetries(now time.Time) {
	m.mu.Lock()
	var due []pendingRetry
	var remaining []pendingRetry
	for _, p := range m.pending {
		if now.Before(p.dueAt) {
			remaining = append(remaining, p)
			continue
		}
		due = append(due, p)
	}
	m.pending = remaining
	m.mu.Unlock()

	for _, p := range due {
		m.mu.Lock()
		rec, ok := m.records[p.recordID]
		m.mu.Unlock()
		if !ok {
			continue
		}
		m.attemptStrategy(rec, p.strategy, now)
	}
}

// ClearSafeMode exits the emergency-stop safe mode, allowing dispatch to
// resume. Intended for an administrative operation once the operator
// judges the cascade has been addressed.
func (m *Manager) ClearSafeMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safeMode = false
}

// InSafeMode reports whether the swarm is in the cascade-triggered
// emergency stop, during which dispatch of new tasks must cease.
func (m *Manager) InSafeMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safeMode
}

// RecordAgentSuccess advances agentID's circuit breaker on a completed
// task.
func (m *Manager) RecordAgentSuccess(agentID string, now time.Time) types.CircuitState {
	return m.breakers.recordSuccess(agentID, now)
}

// RecordAgentFailure advances agentID's circuit breaker on a failed task
// or health signal.
func (m *Manager) RecordAgentFailure(agentID string, now time.Time) types.CircuitState {
	return m.breakers.recordFailure(agentID, now)
}

// CircuitOpen reports whether agentID's breaker currently rejects new
// assignment, suitable for use as a loadbalancer.CircuitChecker.
func (m *Manager) CircuitOpen(agentID string) bool {
	return m.breakers.state(agentID, time.Now()) == types.CircuitOpen
}

// CircuitBreakerStates snapshots every tracked breaker's current state.
func (m *Manager) CircuitBreakerStates() map[string]types.CircuitState {
	return m.breakers.snapshot(time.Now())
}

// Record returns the failure record with the given ID, if tracked.
func (m *Manager) Record(id string) (*types.FailureRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Records returns every tracked failure record.
func (m *Manager) Records() []*types.FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.FailureRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}
