package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/swarmd/pkg/types"
)

const (
	checkpointNamespace = "swarm"
	checkpointKey        = "orchestrator/state"
	checkpointCategory   = "checkpoint"
)

// AdjacencyList is the topology graph's edge set, keyed by agent ID.
type AdjacencyList map[string][]string

// Checkpoint is the persisted snapshot of non-agent coordinator state used
// to bootstrap on restart. Agents are not re-spawned from a checkpoint;
// they are expected to reconnect and re-register.
type Checkpoint struct {
	SwarmID       string                `json:"swarm_id"`
	Topology      types.TopologyPattern `json:"topology"`
	Agents        []*types.Agent        `json:"agents"`
	Tasks         []*types.Task         `json:"tasks"` // non-terminal only
	TopologyGraph AdjacencyList         `json:"topology_graph"`
	Metrics       map[string]float64    `json:"metrics"`
	Timestamp     time.Time             `json:"timestamp"`
}

// SaveCheckpoint writes cp to the well-known checkpoint key. Failures here
// are the caller's to log and swallow; persistence errors on the
// checkpoint path must never block the dispatch loop.
func SaveCheckpoint(store Store, cp *Checkpoint) error {
	cp.Timestamp = time.Now()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	return store.Put(checkpointKey, checkpointNamespace, checkpointCategory, data, []string{cp.SwarmID}, 0)
}

// LoadCheckpoint reads the last saved checkpoint, if any. A missing
// checkpoint is not an error: callers should fall back to a cold start
// with empty registries.
func LoadCheckpoint(store Store) (*Checkpoint, bool, error) {
	data, err := store.Get(checkpointKey, checkpointNamespace)
	if err != nil {
		return nil, false, nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	return &cp, true, nil
}
