package topology

import "sort"

// Role is the capability-inferred position an agent plays in the Hybrid
// pattern.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleSpecialist  Role = "specialist"
	RoleWorker      Role = "worker"
)

func (g *Graph) roleOf(id string) Role {
	caps := g.caps[id]
	if _, ok := caps["coordinator"]; ok {
		return RoleCoordinator
	}
	if _, ok := caps["specialist"]; ok {
		return RoleSpecialist
	}
	return RoleWorker
}

func (g *Graph) weightOf(id string) float64 {
	if g.weighter == nil {
		return 0
	}
	return g.weighter(id)
}

// bestAgent returns the highest-weighted candidate, ties broken by ID.
func (g *Graph) bestAgent(candidates []string) string {
	best := candidates[0]
	bestWeight := g.weightOf(best)
	for _, c := range candidates[1:] {
		w := g.weightOf(c)
		if w > bestWeight || (w == bestWeight && c < best) {
			best = c
			bestWeight = w
		}
	}
	return best
}

// hybridConnections implements the Hybrid pattern's role-based rule:
// coordinators connect broadly to other coordinators plus the
// top-performing existing agent; specialists connect toward coordinators
// whose capabilities match theirs (or any coordinator, or hierarchically
// otherwise); workers connect only to the best coordinator (or
// hierarchically if none exists yet).
func (g *Graph) hybridConnections(id string, existing []string) []string {
	if len(existing) == 0 {
		return nil
	}

	var coordinators []string
	for _, e := range existing {
		if g.roleOf(e) == RoleCoordinator {
			coordinators = append(coordinators, e)
		}
	}

	switch g.roleOf(id) {
	case RoleCoordinator:
		peers := append([]string(nil), coordinators...)
		peers = append(peers, g.bestAgent(existing))
		return dedupe(peers)

	case RoleSpecialist:
		if len(coordinators) == 0 {
			return []string{minDegreeAgent(existing, g.degree)}
		}
		matching := g.capabilityMatches(id, coordinators)
		if len(matching) > 0 {
			return []string{g.bestAgent(matching)}
		}
		return []string{g.bestAgent(coordinators)}

	default: // RoleWorker
		if len(coordinators) == 0 {
			return []string{minDegreeAgent(existing, g.degree)}
		}
		return []string{g.bestAgent(coordinators)}
	}
}

func (g *Graph) capabilityMatches(id string, candidates []string) []string {
	want := g.caps[id]
	var out []string
	for _, c := range candidates {
		for cap := range want {
			if _, ok := g.caps[c][cap]; ok {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// dynamicConnections implements the Dynamic pattern: connect to every
// existing agent the predictor scores above 0.5; if the predictor is
// unavailable, fall back to the Hierarchical rule; if no edge clears the
// threshold but agents exist, add the single most probable one so the
// new vertex is never isolated.
func (g *Graph) dynamicConnections(id string, existing []string) []string {
	if len(existing) == 0 {
		return nil
	}
	if g.predictor == nil {
		return []string{minDegreeAgent(existing, g.degree)}
	}

	var picked []string
	bestID := existing[0]
	bestScore := g.predictor.PredictConnection(id, bestID)

	for _, e := range existing {
		score := g.predictor.PredictConnection(id, e)
		if score > 0.5 {
			picked = append(picked, e)
		}
		if score > bestScore || (score == bestScore && e < bestID) {
			bestID = e
			bestScore = score
		}
	}

	if len(picked) == 0 {
		return []string{bestID}
	}
	return dedupe(picked)
}
