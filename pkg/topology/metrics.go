package topology

// Metrics summarizes the overlay graph's current shape.
type Metrics struct {
	Density               float64
	Centralization        float64
	ClusteringCoefficient float64
	AvgPathLength         float64
}

// Metrics computes the graph-shape summary on demand. AvgPathLength runs
// a BFS from every vertex, O(|A|·(|A|+|E|)).
func (g *Graph) Metrics() Metrics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.order)
	if n == 0 {
		return Metrics{}
	}

	edgeCount := 0
	for _, peers := range g.adj {
		edgeCount += len(peers)
	}
	edgeCount /= 2

	maxEdges := n * (n - 1) / 2
	var density float64
	if maxEdges > 0 {
		density = float64(edgeCount) / float64(maxEdges)
	}

	return Metrics{
		Density:               density,
		Centralization:        g.centralization(),
		ClusteringCoefficient: g.clusteringCoefficient(),
		AvgPathLength:         g.avgPathLength(),
	}
}

// centralization is the sum of each vertex's shortfall from the maximum
// observed degree, normalized by (n-1)(n-2) (Freeman-style star
// centralization), in [0,1].
func (g *Graph) centralization() float64 {
	n := len(g.order)
	if n < 2 {
		return 0
	}

	maxDegree := 0
	for _, id := range g.order {
		if d := g.degree(id); d > maxDegree {
			maxDegree = d
		}
	}

	var sum float64
	for _, id := range g.order {
		sum += float64(maxDegree - g.degree(id))
	}

	denom := float64((n - 1) * (n - 2))
	if denom == 0 {
		return 0
	}
	return sum / denom
}

// clusteringCoefficient averages, over vertices with degree >= 2, the
// fraction of neighbor pairs that are themselves connected.
func (g *Graph) clusteringCoefficient() float64 {
	var total float64
	var counted int

	for _, id := range g.order {
		neighbors := g.neighborsLocked(id)
		k := len(neighbors)
		if k < 2 {
			continue
		}

		links := 0
		for i := 0; i < len(neighbors); i++ {
			for j := i + 1; j < len(neighbors); j++ {
				if _, ok := g.adj[neighbors[i]][neighbors[j]]; ok {
					links++
				}
			}
		}

		possible := k * (k - 1) / 2
		total += float64(links) / float64(possible)
		counted++
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// avgPathLength is the mean shortest-path length over all reachable
// ordered pairs. Unreachable pairs (disconnected graph) are excluded.
func (g *Graph) avgPathLength() float64 {
	n := len(g.order)
	if n < 2 {
		return 0
	}

	var totalLen float64
	var pairs int

	for _, src := range g.order {
		dist := g.bfs(src)
		for id, d := range dist {
			if id == src {
				continue
			}
			totalLen += float64(d)
			pairs++
		}
	}

	if pairs == 0 {
		return 0
	}
	return totalLen / float64(pairs)
}

func (g *Graph) bfs(src string) map[string]int {
	dist := map[string]int{src: 0}
	queue := []string{src}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for neighbor := range g.adj[cur] {
			if _, visited := dist[neighbor]; visited {
				continue
			}
			dist[neighbor] = dist[cur] + 1
			queue = append(queue, neighbor)
		}
	}

	return dist
}
