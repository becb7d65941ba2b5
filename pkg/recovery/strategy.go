package recovery

import "github.com/cuemby/swarmd/pkg/types"

// defaultStrategy maps a failure to its default recovery strategy. Severity
// (read from rec) only disambiguates AgentCrash; retry-eligibility (the
// retryable argument) only disambiguates TaskTimeout.
func defaultStrategy(rec *types.FailureRecord, retryable bool) types.RecoveryStrategy {
	switch rec.Kind {
	case types.FailureAgentCrash:
		if rec.Severity == types.SeverityHigh || rec.Severity == types.SeverityCritical {
			return types.StrategyRestart
		}
		return types.StrategyRelocate
	case types.FailureAgentUnresponsive:
		return types.StrategyRestart
	case types.FailureAgentOverload:
		return types.StrategyScaleUp
	case types.FailureTaskTimeout:
		if retryable {
			return types.StrategyRelocate
		}
		return types.StrategyGracefulDegradation
	case types.FailureTaskError:
		return types.StrategyRelocate
	case types.FailureCommunicationFailure:
		return types.StrategyCircuitBreak
	case types.FailureResourceExhaustion:
		return types.StrategyScaleUp
	case types.FailureNetworkPartition:
		return types.StrategyIsolate
	case types.FailureCoordinationFailure:
		return types.StrategyRestart
	case types.FailureCascadingFailure:
		return types.StrategyEmergencyStop
	default:
		return types.StrategyRelocate
	}
}
