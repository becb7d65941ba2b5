package recovery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/swarmd/pkg/types"
)

type stubExecutor struct {
	mu      sync.Mutex
	results map[string]error // keyed by strategy; default nil (success)
	calls   []types.RecoveryStrategy
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{results: make(map[string]error)}
}

func (s *stubExecutor) Execute(rec *types.FailureRecord, strategy types.RecoveryStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, strategy)
	return s.results[string(strategy)]
}

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestReportFailureResolvesOnExecutorSuccess(t *testing.T) {
	exec := newStubExecutor()
	m := NewManager(exec)

	rec := m.ReportFailure(types.FailureAgentUnresponsive, "agent-1", types.EntityAgent, types.SeverityMedium, nil, false, baseTime)

	assert.Equal(t, types.RecordResolved, rec.Status)
	assert.True(t, rec.Resolved)
	assert.Equal(t, []types.RecoveryStrategy{types.StrategyRestart}, rec.Actions)
}

func TestAgentCrashHighSeverityRestartsOtherwiseRelocates(t *testing.T) {
	exec := newStubExecutor()
	m := NewManager(exec)

	high := m.ReportFailure(types.FailureAgentCrash, "agent-1", types.EntityAgent, types.SeverityHigh, nil, false, baseTime)
	low := m.ReportFailure(types.FailureAgentCrash, "agent-2", types.EntityAgent, types.SeverityLow, nil, false, baseTime)

	assert.Equal(t, types.StrategyRestart, high.Actions[0])
	assert.Equal(t, types.StrategyRelocate, low.Actions[0])
}

func TestTaskTimeoutRetryableVersusTerminal(t *testing.T) {
	exec := newStubExecutor()
	m := NewManager(exec)

	retryable := m.ReportFailure(types.FailureTaskTimeout, "task-1", types.EntityTask, types.SeverityMedium, nil, true, baseTime)
	terminal := m.ReportFailure(types.FailureTaskTimeout, "task-2", types.EntityTask, types.SeverityMedium, nil, false, baseTime)

	assert.Equal(t, types.StrategyRelocate, retryable.Actions[0])
	assert.Equal(t, types.StrategyGracefulDegradation, terminal.Actions[0])
}

func TestFailedStrategyRetriesWithExponentialBackoffThenQuarantines(t *testing.T) {
	exec := newStubExecutor()
	exec.results[string(types.StrategyRestart)] = errors.New("spawn failed")
	m := NewManager(exec)

	rec := m.ReportFailure(types.FailureAgentUnresponsive, "agent-1", types.EntityAgent, types.SeverityMedium, nil, false, baseTime)
	require.Equal(t, types.RecordRetrying, rec.Status)
	require.Len(t, m.pending, 1)
	assert.Equal(t, baseTime.Add(10*time.Second), m.pending[0].dueAt) // 5s * 2^1

	// not yet due
	m.ProcessDueRetries(baseTime.Add(5 * time.Second))
	assert.Len(t, m.pending, 1)
	assert.Equal(t, 1, rec.Attempts)

	// due: second attempt, still fails
	m.ProcessDueRetries(baseTime.Add(10 * time.Second))
	assert.Equal(t, 2, rec.Attempts)
	require.Len(t, m.pending, 1)
	assert.Equal(t, baseTime.Add(10*time.Second).Add(20*time.Second), m.pending[0].dueAt) // 5s * 2^2

	// third attempt exhausts maxAttempts(3) and quarantines
	m.ProcessDueRetries(baseTime.Add(35 * time.Second))
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, types.RecordQuarantined, rec.Status)
	assert.Empty(t, m.pending)
}

func TestCascadeOfThreeDistinctFailuresTriggersEmergencyStop(t *testing.T) {
	exec := newStubExecutor()
	m := NewManager(exec)

	m.ReportFailure(types.FailureAgentCrash, "agent-1", types.EntityAgent, types.SeverityHigh, nil, false, baseTime)
	m.ReportFailure(types.FailureAgentCrash, "agent-2", types.EntityAgent, types.SeverityHigh, nil, false, baseTime.Add(3*time.Second))
	assert.False(t, m.InSafeMode())

	m.ReportFailure(types.FailureAgentCrash, "agent-3", types.EntityAgent, types.SeverityHigh, nil, false, baseTime.Add(8*time.Second))
	assert.True(t, m.InSafeMode())

	var sawCascade bool
	for _, rec := range m.Records() {
		if rec.Kind == types.FailureCascadingFailure {
			sawCascade = true
			assert.Equal(t, types.SeverityCritical, rec.Severity)
		}
	}
	assert.True(t, sawCascade)
}

func TestCascadeWindowExpiresOutsideThirtySeconds(t *testing.T) {
	exec := newStubExecutor()
	m := NewManager(exec)

	m.ReportFailure(types.FailureAgentCrash, "agent-1", types.EntityAgent, types.SeverityHigh, nil, false, baseTime)
	m.ReportFailure(types.FailureAgentCrash, "agent-2", types.EntityAgent, types.SeverityHigh, nil, false, baseTime.Add(31*time.Second))
	m.ReportFailure(types.FailureAgentCrash, "agent-3", types.EntityAgent, types.SeverityHigh, nil, false, baseTime.Add(33*time.Second))

	assert.False(t, m.InSafeMode())
}

func TestPatternsSplitByHourKeepDefaultStrategy(t *testing.T) {
	exec := newStubExecutor()
	m := NewManager(exec)

	ctx := map[string]string{"region": "us-east"}
	for i := 0; i < 3; i++ {
		m.ReportFailure(types.FailureResourceExhaustion, "agent-1", types.EntityAgent, types.SeverityMedium, ctx, false, baseTime.Add(time.Duration(i)*time.Hour))
	}

	rec := m.ReportFailure(types.FailureResourceExhaustion, "agent-2", types.EntityAgent, types.SeverityMedium, ctx, false, baseTime.Add(time.Hour))
	// The three reports fall in different hours of the day, so each
	// projects to its own pattern and none reaches the occurrence
	// threshold; the fourth report therefore uses the default mapping
	// (ScaleUp).
	assert.Equal(t, types.StrategyScaleUp, rec.Actions[0])
}

func TestCircuitBreakerOpensAfterThresholdFailures(t *testing.T) {
	m := NewManager(newStubExecutor())

	for i := 0; i < DefaultCircuitThreshold-1; i++ {
		state := m.RecordAgentFailure("agent-1", baseTime)
		assert.Equal(t, types.CircuitClosed, state)
	}

	state := m.RecordAgentFailure("agent-1", baseTime)
	assert.Equal(t, types.CircuitOpen, state)
	assert.True(t, m.CircuitOpen("agent-1"))
}

func TestCircuitBreakerHalfOpensAfterTimeoutThenClosesOnSuccess(t *testing.T) {
	m := NewManager(newStubExecutor())

	for i := 0; i < DefaultCircuitThreshold; i++ {
		m.RecordAgentFailure("agent-1", baseTime)
	}
	require.Equal(t, types.CircuitOpen, m.breakers.state("agent-1", baseTime))

	afterTimeout := baseTime.Add(DefaultCircuitTimeout + time.Second)
	assert.Equal(t, types.CircuitHalfOpen, m.breakers.state("agent-1", afterTimeout))

	state := m.RecordAgentSuccess("agent-1", afterTimeout)
	assert.Equal(t, types.CircuitClosed, state)
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	m := NewManager(newStubExecutor())
	for i := 0; i < DefaultCircuitThreshold; i++ {
		m.RecordAgentFailure("agent-1", baseTime)
	}
	afterTimeout := baseTime.Add(DefaultCircuitTimeout + time.Second)
	require.Equal(t, types.CircuitHalfOpen, m.breakers.state("agent-1", afterTimeout))

	state := m.RecordAgentFailure("agent-1", afterTimeout)
	assert.Equal(t, types.CircuitOpen, state)
}

func TestCircuitBreakerStatesSnapshotsAllTracked(t *testing.T) {
	m := NewManager(newStubExecutor())
	m.RecordAgentFailure("agent-1", baseTime)
	m.RecordAgentSuccess("agent-2", baseTime)

	states := m.CircuitBreakerStates()
	assert.Equal(t, types.CircuitClosed, states["agent-1"])
	assert.Equal(t, types.CircuitClosed, states["agent-2"])
}
