package orchestrator

import "time"

// Config tunes the Coordinator's timers and defaults. A zero Config is
// invalid; use DefaultConfig and override individual fields.
type Config struct {
	SwarmID string
	MaxAgents int

	SpawnTimeout       time.Duration
	AgingInterval      time.Duration
	DefaultMaxRetries  int
	DefaultBaseDelay   time.Duration
	DefaultTaskTimeout time.Duration

	HeartbeatScanInterval      time.Duration
	HeartbeatTimeout           time.Duration
	TaskTimeoutScanInterval    time.Duration
	HealthCheckInterval        time.Duration
	MetricsRollupInterval      time.Duration
	CircuitMaintenanceInterval time.Duration
	WeightRecomputeInterval    time.Duration
	CheckpointInterval         time.Duration

	RegisterDeadline time.Duration
	QueueCapacity    int
}

// DefaultConfig returns the §4/§5 defaults, with SwarmID left for the
// caller to fill in.
func DefaultConfig() Config {
	return Config{
		MaxAgents: 256,

		SpawnTimeout:       30 * time.Second,
		AgingInterval:      60 * time.Second,
		DefaultMaxRetries:  3,
		DefaultBaseDelay:   5 * time.Second,
		DefaultTaskTimeout: 5 * time.Minute,

		HeartbeatScanInterval:      5 * time.Second,
		HeartbeatTimeout:           20 * time.Second,
		TaskTimeoutScanInterval:    5 * time.Second,
		HealthCheckInterval:        10 * time.Second,
		MetricsRollupInterval:      30 * time.Second,
		CircuitMaintenanceInterval: 30 * time.Second,
		WeightRecomputeInterval:    60 * time.Second,
		CheckpointInterval:         60 * time.Second,

		RegisterDeadline: 30 * time.Second,
		QueueCapacity:    1024,
	}
}
