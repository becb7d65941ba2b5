package metrics

import (
	"time"

	"github.com/cuemby/swarmd/pkg/orchestrator"
	"github.com/cuemby/swarmd/pkg/types"
)

// Collector periodically samples the coordinator's in-memory state and
// publishes it to the registered gauges.
type Collector struct {
	coord  *orchestrator.Coordinator
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for coord.
func NewCollector(coord *orchestrator.Coordinator) *Collector {
	return &Collector{
		coord:  coord,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAgentMetrics()
	c.collectTaskMetrics()
	c.collectCircuitBreakerMetrics()
	c.collectTopologyMetrics()
}

func (c *Collector) collectAgentMetrics() {
	agents := c.coord.ListAgents()

	counts := make(map[string]map[types.AgentState]int)
	for _, agent := range agents {
		if counts[agent.Kind] == nil {
			counts[agent.Kind] = make(map[types.AgentState]int)
		}
		counts[agent.Kind][agent.State]++

		AgentLoad.WithLabelValues(agent.ID).Set(agent.Metrics.CurrentLoad)
		AgentWeight.WithLabelValues(agent.ID).Set(agent.Weight)
	}

	for kind, states := range counts {
		for state, n := range states {
			AgentsTotal.WithLabelValues(kind, string(state)).Set(float64(n))
		}
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks := c.coord.ListTasks()

	counts := make(map[types.TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}

	for status, n := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (c *Collector) collectCircuitBreakerMetrics() {
	for agentID, cb := range c.coord.CircuitBreakerStates() {
		var v float64
		switch cb {
		case types.CircuitHalfOpen:
			v = 1
		case types.CircuitOpen:
			v = 2
		default:
			v = 0
		}
		CircuitBreakerState.WithLabelValues(agentID).Set(v)
	}
}

func (c *Collector) collectTopologyMetrics() {
	TopologyDensity.Set(c.coord.TopologyDensity())
}
