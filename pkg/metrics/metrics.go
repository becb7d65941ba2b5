package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Swarm membership metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmd_agents_total",
			Help: "Total number of agents by kind and state",
		},
		[]string{"kind", "state"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmd_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	// Dispatch metrics
	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmd_dispatch_latency_seconds",
			Help:    "Time taken to select and assign an agent to a queued task",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_tasks_dispatched_total",
			Help: "Total number of tasks successfully dispatched to an agent",
		},
	)

	TasksRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_tasks_retried_total",
			Help: "Total number of task retries after a retryable error",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_tasks_failed_total",
			Help: "Total number of tasks that reached a terminal failed state",
		},
	)

	// Load balancer metrics
	AgentLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmd_agent_load",
			Help: "Current load (mean resource utilization) per agent",
		},
		[]string{"agent_id"},
	)

	AgentWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmd_agent_weight",
			Help: "Current selection weight per agent",
		},
		[]string{"agent_id"},
	)

	SelectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmd_lb_selection_duration_seconds",
			Help:    "Time taken by the load balancer to select an agent, by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Topology metrics
	TopologyDensity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmd_topology_density",
			Help: "Current overlay graph density",
		},
	)

	TopologyAdaptations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_topology_adaptations_total",
			Help: "Total number of automatic topology pattern changes",
		},
	)

	// Failure recovery metrics
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmd_circuit_breaker_state",
			Help: "Circuit breaker state per agent (0=closed, 1=half_open, 2=open)",
		},
		[]string{"agent_id"},
	)

	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_failures_total",
			Help: "Total number of failure records by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	CascadesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_cascades_detected_total",
			Help: "Total number of cascading failures detected",
		},
	)

	RecoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmd_recovery_duration_seconds",
			Help:    "Time taken to execute a recovery strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Control API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmd_api_requests_total",
			Help: "Total number of Control API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmd_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Persistence metrics
	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmd_checkpoint_duration_seconds",
			Help:    "Time taken to write a coordinator checkpoint",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmd_checkpoints_failed_total",
			Help: "Total number of checkpoint writes that failed (best-effort, swallowed)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AgentsTotal,
		TasksTotal,
		DispatchLatency,
		TasksDispatched,
		TasksRetried,
		TasksFailed,
		AgentLoad,
		AgentWeight,
		SelectionDuration,
		TopologyDensity,
		TopologyAdaptations,
		CircuitBreakerState,
		FailuresTotal,
		CascadesDetected,
		RecoveryDuration,
		APIRequestsTotal,
		APIRequestDuration,
		CheckpointDuration,
		CheckpointsFailed,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
