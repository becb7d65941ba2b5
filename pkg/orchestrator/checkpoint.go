package orchestrator

import (
	"time"

	"github.com/cuemby/swarmd/pkg/log"
	"github.com/cuemby/swarmd/pkg/persistence"
	"github.com/cuemby/swarmd/pkg/types"
)

// restoreCheckpoint loads the last saved checkpoint, if any, reinstating
// its topology pattern and non-terminal tasks. Agents are never restored
// from a checkpoint; each is expected to reconnect and re-register, at
// which point HandleRegister re-admits it to the topology.
func (c *Coordinator) restoreCheckpoint() {
	cp, found, err := persistence.LoadCheckpoint(c.store)
	if err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("load checkpoint, falling back to cold start")
		return
	}
	if !found {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cp.Topology != "" && cp.Topology != c.topo.Pattern() {
		if err := c.topo.ChangeTopology(cp.Topology, "restored from checkpoint"); err != nil {
			log.WithComponent("orchestrator").Warn().Err(err).Msg("restore checkpointed topology pattern")
		}
	}

	now := time.Now()
	for _, t := range cp.Tasks {
		if t.Status.IsTerminal() {
			continue
		}
		t.Assignment = nil
		if t.Status == types.TaskAssigned || t.Status == types.TaskInProgress {
			t.Status = types.TaskPending
		}
		c.tasks[t.ID] = t
		c.promoteIfEligibleLocked(t, now)
	}

	log.WithComponent("orchestrator").Info().Int("restored_tasks", len(c.tasks)).Msg("restored checkpoint")
}

// checkpoint snapshots non-terminal tasks and the topology graph and
// persists them. Errors are logged and swallowed: the checkpoint path
// must never block the dispatch loop.
func (c *Coordinator) checkpoint() {
	c.mu.Lock()
	tasks := make([]*types.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		if !t.Status.IsTerminal() {
			tasks = append(tasks, t)
		}
	}
	pattern := c.topo.Pattern()
	c.mu.Unlock()

	adjacency := make(persistence.AdjacencyList)
	for _, id := range c.topo.Agents() {
		adjacency[id] = c.topo.Neighbors(id)
	}

	cp := &persistence.Checkpoint{
		SwarmID:       c.cfg.SwarmID,
		Topology:      pattern,
		Tasks:         tasks,
		TopologyGraph: adjacency,
		Metrics:       map[string]float64{"density": c.topo.Metrics().Density},
	}

	if err := persistence.SaveCheckpoint(c.store, cp); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Msg("save checkpoint")
	}
}
