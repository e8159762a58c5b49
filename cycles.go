package quarry

import "slices"

// EnumerateCycles returns every elementary cycle in the graph, each as a list
// of nodes with the cycle implied from the last node back to the first.
// Cycle search runs per strongly connected component (Tarjan), and within a
// component uses Johnson's blocking scheme restricted to that component.
func (g *Graph) EnumerateCycles() [][]NodeID {
	var cycles [][]NodeID
	for _, scc := range g.stronglyConnected() {
		if len(scc) == 1 {
			u := scc[0]
			if _, ok := g.edgeSet[[2]int{u, u}]; ok {
				cycles = append(cycles, []NodeID{g.nodes[u]})
			}
			continue
		}
		for _, c := range g.cyclesInComponent(scc) {
			ids := make([]NodeID, len(c))
			for i, v := range c {
				ids[i] = g.nodes[v]
			}
			cycles = append(cycles, ids)
		}
	}
	return cycles
}

// stronglyConnected runs Tarjan's algorithm iteratively.
func (g *Graph) stronglyConnected() [][]int {
	n := len(g.nodes)
	const unvisited = -1
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}
	var stack []int
	var sccs [][]int
	counter := 0

	type frame struct {
		v, next int
	}
	for start := 0; start < n; start++ {
		if index[start] != unvisited {
			continue
		}
		frames := []frame{{v: start}}
		index[start] = counter
		lowlink[start] = counter
		counter++
		stack = append(stack, start)
		onStack[start] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.next < len(g.succ[f.v]) {
				w := g.succ[f.v][f.next]
				f.next++
				if index[w] == unvisited {
					index[w] = counter
					lowlink[w] = counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					frames = append(frames, frame{v: w})
				} else if onStack[w] {
					lowlink[f.v] = min(lowlink[f.v], index[w])
				}
				continue
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].v
				lowlink[parent] = min(lowlink[parent], lowlink[f.v])
			}
			if lowlink[f.v] == index[f.v] {
				var scc []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == f.v {
						break
					}
				}
				sccs = append(sccs, scc)
			}
		}
	}
	return sccs
}

// cyclesInComponent enumerates elementary cycles of one strongly connected
// component with Johnson's blocked search. Each cycle is reported once,
// rooted at its lowest-ordered vertex.
func (g *Graph) cyclesInComponent(scc []int) [][]int {
	members := slices.Clone(scc)
	slices.Sort(members)
	inSCC := make(map[int]int, len(members))
	for i, v := range members {
		inSCC[v] = i
	}

	var cycles [][]int
	blocked := make(map[int]bool)
	blockMap := make(map[int]map[int]struct{})
	var path []int

	var unblock func(v int)
	unblock = func(v int) {
		blocked[v] = false
		for w := range blockMap[v] {
			delete(blockMap[v], w)
			if blocked[w] {
				unblock(w)
			}
		}
	}

	for si, s := range members {
		var circuit func(v int) bool
		circuit = func(v int) bool {
			found := false
			path = append(path, v)
			blocked[v] = true
			for _, w := range g.succ[v] {
				wi, ok := inSCC[w]
				if !ok || wi < si {
					continue
				}
				if w == s {
					cycles = append(cycles, slices.Clone(path))
					found = true
				} else if !blocked[w] {
					if circuit(w) {
						found = true
					}
				}
			}
			if found {
				unblock(v)
			} else {
				for _, w := range g.succ[v] {
					wi, ok := inSCC[w]
					if !ok || wi < si {
						continue
					}
					if blockMap[w] == nil {
						blockMap[w] = make(map[int]struct{})
					}
					blockMap[w][v] = struct{}{}
				}
			}
			path = path[:len(path)-1]
			return found
		}

		clear(blocked)
		for _, v := range members[si:] {
			delete(blockMap, v)
		}
		circuit(s)
	}
	return cycles
}
