package topology

// rebuildRing recomputes the cycle adjacency from order, the cycle
// sequence maintained across inserts and removals. Inserting at the end
// of order (last-in) and removing from wherever an agent sits both
// resolve to "rebuild the cycle from the current sequence", which is the
// simplest disruption-minimizing heuristic: only the two edges touching
// the change point are ever altered.
func (g *Graph) rebuildRing(order []string) {
	for _, id := range order {
		g.adj[id] = make(map[string]struct{})
	}

	n := len(order)
	if n < 2 {
		return
	}
	for i := 0; i < n; i++ {
		a := order[i]
		b := order[(i+1)%n]
		g.connectSymmetric(a, b)
	}
}
