// Package topology maintains the overlay graph over a swarm's agents: it
// computes each newly added agent's connection set under the active
// pattern, repairs orphaned vertices on removal, and reports graph-shape
// metrics used by the adaptation loop.
package topology

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/swarmd/pkg/types"
)

// Weighter ranks an agent for the Hybrid pattern's "top-performing agent"
// rule. Higher is better; ties break by agent ID.
type Weighter func(agentID string) float64

// ConnectionPredictor is the Dynamic pattern's learned model: it scores
// the probability that newID should connect to an existing agent. If nil,
// Dynamic falls back to the Hierarchical rule.
type ConnectionPredictor interface {
	PredictConnection(newID, existingID string) float64
}

// Graph is the overlay graph G maintained over a swarm's agents. All
// operations preserve symmetry (no directed edges) and forbid self-loops.
type Graph struct {
	mu sync.RWMutex

	pattern types.TopologyPattern
	adj     map[string]map[string]struct{}
	order   []string // insertion order; ring cycle order for Ring
	caps    map[string]map[string]struct{}

	weighter  Weighter
	predictor ConnectionPredictor
}

// New constructs an empty Graph under pattern.
func New(pattern types.TopologyPattern) *Graph {
	return &Graph{
		pattern: pattern,
		adj:     make(map[string]map[string]struct{}),
		caps:    make(map[string]map[string]struct{}),
	}
}

// SetWeighter installs the ranking function Hybrid uses to pick
// top-performing agents. Pass nil to fall back to ID-ascending order.
func (g *Graph) SetWeighter(w Weighter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.weighter = w
}

// SetPredictor installs the learned model Dynamic consults.
func (g *Graph) SetPredictor(p ConnectionPredictor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.predictor = p
}

// Pattern returns the currently active connection pattern.
func (g *Graph) Pattern() types.TopologyPattern {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pattern
}

// Agents returns the current vertex set in insertion order.
func (g *Graph) Agents() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Neighbors returns id's current peer set.
func (g *Graph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighborsLocked(id)
}

func (g *Graph) neighborsLocked(id string) []string {
	peers := g.adj[id]
	out := make([]string, 0, len(peers))
	for p := range peers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) degree(id string) int {
	return len(g.adj[id])
}

func (g *Graph) connectSymmetric(a, b string) {
	if a == b {
		return
	}
	if g.adj[a] == nil {
		g.adj[a] = make(map[string]struct{})
	}
	if g.adj[b] == nil {
		g.adj[b] = make(map[string]struct{})
	}
	g.adj[a][b] = struct{}{}
	g.adj[b][a] = struct{}{}
}

func (g *Graph) disconnectSymmetric(a, b string) {
	delete(g.adj[a], b)
	delete(g.adj[b], a)
}

// AddAgent inserts id with capabilities, computing its connection set
// under the active pattern and inserting symmetrically.
func (g *Graph) AddAgent(id string, capabilities []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.adj[id]; exists {
		return fmt.Errorf("agent %s already present in topology", id)
	}

	capSet := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = struct{}{}
	}
	g.caps[id] = capSet

	g.adj[id] = make(map[string]struct{})
	existing := append([]string(nil), g.order...)
	g.order = append(g.order, id)

	if g.pattern == types.TopologyRing {
		g.rebuildRing(g.order)
	} else {
		peers := g.connectionSet(g.pattern, id, existing)
		for _, peer := range peers {
			g.connectSymmetric(id, peer)
		}
	}

	return nil
}

// RemoveAgent deletes id. Any neighbor left with degree 0 is repaired by
// recomputing one connection for it under the current pattern.
func (g *Graph) RemoveAgent(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.adj[id]; !exists {
		return fmt.Errorf("agent %s not present in topology", id)
	}

	neighbors := g.neighborsLocked(id)
	for _, n := range neighbors {
		g.disconnectSymmetric(id, n)
	}
	delete(g.adj, id)
	delete(g.caps, id)
	g.order = removeString(g.order, id)

	if g.pattern == types.TopologyRing {
		g.rebuildRing(g.order)
		return nil
	}

	for _, n := range neighbors {
		if len(g.order) >= 1 && g.degree(n) == 0 {
			g.repairOrphan(n)
		}
	}
	return nil
}

// repairOrphan reconnects a vertex left with degree 0 after a removal,
// per the current pattern's rule, excluding itself from candidates.
func (g *Graph) repairOrphan(id string) {
	others := make([]string, 0, len(g.order))
	for _, a := range g.order {
		if a != id {
			others = append(others, a)
		}
	}
	if len(others) == 0 {
		return
	}

	switch g.pattern {
	case types.TopologyMesh:
		for _, o := range others {
			g.connectSymmetric(id, o)
		}
	case types.TopologyStar:
		hub := g.order[0]
		g.connectSymmetric(id, hub)
	case types.TopologyHierarchical:
		target := minDegreeAgent(others, g.degree)
		g.connectSymmetric(id, target)
	case types.TopologyHybrid:
		for _, peer := range g.hybridConnections(id, others) {
			g.connectSymmetric(id, peer)
		}
	case types.TopologyDynamic:
		for _, peer := range g.dynamicConnections(id, others) {
			g.connectSymmetric(id, peer)
		}
	default:
		target := minDegreeAgent(others, g.degree)
		g.connectSymmetric(id, target)
	}
}

// ChangeTopology atomically recomputes G for the agent set under a new
// pattern, replaying each agent's original insertion order. On any
// failure the previous graph is restored.
func (g *Graph) ChangeTopology(pattern types.TopologyPattern, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	prevAdj := cloneAdjacency(g.adj)
	prevPattern := g.pattern

	g.adj = make(map[string]map[string]struct{}, len(g.order))
	for _, id := range g.order {
		g.adj[id] = make(map[string]struct{})
	}
	g.pattern = pattern

	if err := g.recompute(); err != nil {
		g.adj = prevAdj
		g.pattern = prevPattern
		return fmt.Errorf("change topology to %s (%s): %w", pattern, reason, err)
	}

	return nil
}

func (g *Graph) recompute() error {
	if g.pattern == types.TopologyRing {
		g.rebuildRing(g.order)
		return nil
	}

	var inserted []string
	for _, id := range g.order {
		peers := g.connectionSet(g.pattern, id, inserted)
		for _, peer := range peers {
			g.connectSymmetric(id, peer)
		}
		inserted = append(inserted, id)
	}
	return nil
}

// connectionSet computes who newID should connect to, given the agents
// already present (existing), under pattern. Ring is handled separately
// via rebuildRing because it needs cycle-order bookkeeping, not a
// per-insertion edge set.
func (g *Graph) connectionSet(pattern types.TopologyPattern, newID string, existing []string) []string {
	switch pattern {
	case types.TopologyMesh:
		return append([]string(nil), existing...)
	case types.TopologyHierarchical:
		if len(existing) == 0 {
			return nil
		}
		return []string{minDegreeAgent(existing, g.degree)}
	case types.TopologyStar:
		if len(existing) == 0 {
			return nil // this agent becomes the hub
		}
		return []string{existing[0]}
	case types.TopologyHybrid:
		return g.hybridConnections(newID, existing)
	case types.TopologyDynamic:
		return g.dynamicConnections(newID, existing)
	default:
		if len(existing) == 0 {
			return nil
		}
		return []string{minDegreeAgent(existing, g.degree)}
	}
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return append([]string(nil), out...)
}

func cloneAdjacency(adj map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(adj))
	for id, peers := range adj {
		cp := make(map[string]struct{}, len(peers))
		for p := range peers {
			cp[p] = struct{}{}
		}
		out[id] = cp
	}
	return out
}

// minDegreeAgent returns the candidate with the lowest degree, ties
// broken by ID ascending.
func minDegreeAgent(candidates []string, degree func(string) int) string {
	best := candidates[0]
	bestDeg := degree(best)
	for _, c := range candidates[1:] {
		d := degree(c)
		if d < bestDeg || (d == bestDeg && c < best) {
			best = c
			bestDeg = d
		}
	}
	return best
}
