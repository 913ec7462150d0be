package graph

// detectCycles walks subscriptions depth first from every job in
// registration order and records each back edge as a cycle path.
func (g *Graph) detectCycles() [][]string {
	visited := make(map[string]bool, len(g.order))
	onStack := make(map[string]bool, len(g.order))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range g.subscribed[id] {
			if !visited[next] {
				visit(next)
				continue
			}
			if onStack[next] {
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycles = append(cycles, append([]string(nil), stack[i:]...))
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	for _, id := range g.order {
		if !visited[id] {
			visit(id)
		}
	}
	return cycles
}

// Layers groups jobs by distance from the roots along wired edges (Kahn's
// algorithm). Jobs on a cycle are returned in a final layer.
func (g *Graph) Layers() [][]string {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		for _, dep := range g.subscribed[id] {
			inDegree[dep]++
		}
	}

	var layers [][]string
	placed := make(map[string]bool, len(g.order))
	var current []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}
	for len(current) > 0 {
		layers = append(layers, current)
		var next []string
		for _, id := range current {
			placed[id] = true
			for _, dep := range g.subscribed[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	var rest []string
	for _, id := range g.order {
		if !placed[id] {
			rest = append(rest, id)
		}
	}
	if len(rest) > 0 {
		layers = append(layers, rest)
	}
	return layers
}
