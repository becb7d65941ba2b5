// Package orchestrator is the Swarm Orchestrator: it owns the agent and
// task registries, runs the dispatch loop, and wires the Topology Manager,
// Load Balancer, and Failure Recovery components together behind the
// Control API and Worker Protocol surfaces.
package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/swarmd/pkg/coordserver"
	"github.com/cuemby/swarmd/pkg/events"
	"github.com/cuemby/swarmd/pkg/loadbalancer"
	"github.com/cuemby/swarmd/pkg/persistence"
	"github.com/cuemby/swarmd/pkg/recovery"
	"github.com/cuemby/swarmd/pkg/topology"
	"github.com/cuemby/swarmd/pkg/types"
)

// pendingSpawn tracks a SpawnAgent call awaiting the worker's register
// frame.
type pendingSpawn struct {
	agentID string
	done    chan error
}

// Coordinator is the single process-owned holder of swarm state: the
// agent registry, task registry, topology graph, circuit breakers, and
// failure records are all mutated only through its methods, per the
// shared-resource policy.
type Coordinator struct {
	cfg   Config
	store persistence.Store

	mu     sync.Mutex
	agents map[string]*types.Agent
	tasks  map[string]*types.Task

	topo     *topology.Graph
	adaptor  *topology.Adaptor
	balancer *loadbalancer.Balancer
	recovery *recovery.Manager
	hub      *coordserver.Hub
	broker   *events.Broker

	pendingSpawns map[string]*pendingSpawn

	shuttingDown bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New constructs a Coordinator. The caller wires the returned Coordinator
// into a coordserver.Hub (it implements InboundHandler) and an HTTP
// control-plane router.
func New(cfg Config, pattern types.TopologyPattern, strategy types.LBStrategy, store persistence.Store, predictor loadbalancer.Predictor, connPredictor topology.ConnectionPredictor) *Coordinator {
	c := &Coordinator{
		cfg:           cfg,
		store:         store,
		agents:        make(map[string]*types.Agent),
		tasks:         make(map[string]*types.Task),
		pendingSpawns: make(map[string]*pendingSpawn),
		broker:        events.NewBroker(),
		stopCh:        make(chan struct{}),
	}

	c.topo = topology.New(pattern)
	c.topo.SetWeighter(c.agentWeight)
	c.topo.SetPredictor(connPredictor)
	c.adaptor = topology.NewAdaptor(c.topo)

	c.recovery = recovery.NewManager(c)
	c.balancer = loadbalancer.New(strategy, predictor, c.recovery.CircuitOpen)

	c.hub = coordserver.NewHub(c, cfg.RegisterDeadline, cfg.QueueCapacity)

	return c
}

func (c *Coordinator) agentWeight(agentID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[agentID]; ok {
		return a.Weight
	}
	return 0
}

// Hub returns the coordination server so the caller can mount it on an
// HTTP router.
func (c *Coordinator) Hub() *coordserver.Hub { return c.hub }

// Events returns the event broker for subscribers (e.g. a diagnostics
// endpoint) wanting to observe swarm activity.
func (c *Coordinator) Events() *events.Broker { return c.broker }

// Start loads the last checkpoint (if any), starts the event broker, the
// dispatch loop, and every periodic timer, then returns. It does not
// block. The Prometheus collector is not started here.
func (c *Coordinator) Start() {
	c.broker.Start()
	c.restoreCheckpoint()

	c.wg.Add(1)
	go c.dispatchLoop()

	c.startTimer(c.cfg.HeartbeatScanInterval, c.heartbeatScan)
	c.startTimer(c.cfg.TaskTimeoutScanInterval, c.taskTimeoutScan)
	c.startTimer(c.cfg.HealthCheckInterval, c.healthCheck)
	c.startTimer(c.cfg.MetricsRollupInterval, c.metricsRollup)
	c.startTimer(c.cfg.CircuitMaintenanceInterval, c.circuitMaintenance)
	c.startTimer(c.cfg.WeightRecomputeInterval, c.weightRecompute)
	c.startTimer(c.cfg.CheckpointInterval, c.checkpoint)
}

func (c *Coordinator) startTimer(interval time.Duration, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Shutdown stops accepting new dispatch, waits up to grace for in-flight
// tasks, checkpoints state, and is idempotent.
func (c *Coordinator) Shutdown(grace time.Duration) error {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return nil
	}
	c.shuttingDown = true
	inFlight := c.countNonTerminalLocked()
	c.mu.Unlock()

	if inFlight > 0 {
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			c.mu.Lock()
			remaining := c.countNonTerminalLocked()
			c.mu.Unlock()
			if remaining == 0 {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	c.mu.Lock()
	now := time.Now()
	for _, t := range c.tasks {
		if !t.Status.IsTerminal() {
			t.Status = types.TaskFailed
			t.Error = &types.TaskError{Message: "shutdown grace period expired", Kind: types.FailureTaskTimeout}
			t.UpdatedAt = now
		}
	}
	for agentID := range c.agents {
		_ = c.hub.Send(agentID, &coordserver.Frame{Type: coordserver.FrameShutdown})
	}
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	c.checkpoint()
	c.broker.Stop()
	return nil
}

func (c *Coordinator) countNonTerminalLocked() int {
	n := 0
	for _, t := range c.tasks {
		if !t.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Metrics returns a MetricsView snapshot for the Control API.
func (c *Coordinator) Metrics() MetricsView {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := MetricsView{
		AgentCount:    len(c.agents),
		AgentsByState: make(map[types.AgentState]int),
		TaskCount:     len(c.tasks),
		TasksByStatus: make(map[types.TaskStatus]int),
		SafeMode:      c.recovery.InSafeMode(),
		CircuitStates: c.recovery.CircuitBreakerStates(),
	}
	for _, a := range c.agents {
		view.AgentsByState[a.State]++
	}
	for _, t := range c.tasks {
		view.TasksByStatus[t.Status]++
	}
	view.TopologyDensity = c.topo.Metrics().Density
	return view
}

// --- pkg/metrics.Collector contract ---

// ListAgents returns every tracked agent, for the Prometheus collector and
// the Control API.
func (c *Coordinator) ListAgents() []*types.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	return out
}

// ListTasks returns every tracked task, for the Prometheus collector and
// the Control API.
func (c *Coordinator) ListTasks() []*types.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	return out
}

// CircuitBreakerStates exposes every tracked agent breaker's state.
func (c *Coordinator) CircuitBreakerStates() map[string]types.CircuitState {
	return c.recovery.CircuitBreakerStates()
}

// TopologyDensity exposes the overlay graph's current density.
func (c *Coordinator) TopologyDensity() float64 {
	return c.topo.Metrics().Density
}

func (c *Coordinator) publish(evtType events.EventType, agentID, taskID, msg string) {
	c.broker.Publish(&events.Event{
		ID:      uuid.NewString(),
		Type:    evtType,
		AgentID: agentID,
		TaskID:  taskID,
		Message: msg,
	})
}
