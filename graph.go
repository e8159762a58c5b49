package quarry

import (
	"fmt"
	"slices"
)

// NodeKind discriminates the two node variants of the schedule graph.
type NodeKind uint8

const (
	NodeSystem NodeKind = iota
	NodeSet
)

func (k NodeKind) String() string {
	if k == NodeSet {
		return "Set"
	}
	return "System"
}

// NodeID is a tagged index identifying a system or set node.
type NodeID struct {
	Kind  NodeKind
	Index int
}

func SystemNode(index int) NodeID { return NodeID{Kind: NodeSystem, Index: index} }
func SetNode(index int) NodeID    { return NodeID{Kind: NodeSet, Index: index} }

func (n NodeID) String() string {
	return fmt.Sprintf("%s(%d)", n.Kind, n.Index)
}

// Graph is a directed graph over NodeIDs. Edges are deduplicated.
type Graph struct {
	nodes   []NodeID
	index   map[NodeID]int
	succ    [][]int
	edgeSet map[[2]int]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		index:   make(map[NodeID]int),
		edgeSet: make(map[[2]int]struct{}),
	}
}

func (g *Graph) AddNode(n NodeID) {
	if _, ok := g.index[n]; ok {
		return
	}
	g.index[n] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.succ = append(g.succ, nil)
}

// AddEdge inserts a directed edge, adding missing endpoints.
func (g *Graph) AddEdge(from, to NodeID) {
	g.AddNode(from)
	g.AddNode(to)
	u, v := g.index[from], g.index[to]
	key := [2]int{u, v}
	if _, ok := g.edgeSet[key]; ok {
		return
	}
	g.edgeSet[key] = struct{}{}
	g.succ[u] = append(g.succ[u], v)
}

func (g *Graph) HasEdge(from, to NodeID) bool {
	u, okU := g.index[from]
	v, okV := g.index[to]
	if !okU || !okV {
		return false
	}
	_, ok := g.edgeSet[[2]int{u, v}]
	return ok
}

func (g *Graph) Nodes() []NodeID {
	return slices.Clone(g.nodes)
}

func (g *Graph) EdgeCount() int {
	return len(g.edgeSet)
}

// topoSort runs Kahn's algorithm. The boolean is false when the graph holds a
// cycle and no complete order exists.
func (g *Graph) topoSort() ([]int, bool) {
	n := len(g.nodes)
	indegree := make([]int, n)
	for _, succs := range g.succ {
		for _, v := range succs {
			indegree[v]++
		}
	}
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, n)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		order = append(order, u)
		for _, v := range g.succ[u] {
			indegree[v]--
			if indegree[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	return order, len(order) == n
}

// bitMatrix is a bit-packed n-by-n reachability matrix indexed by topological
// position.
type bitMatrix struct {
	n     int
	words int
	bits  []uint64
}

func newBitMatrix(n int) *bitMatrix {
	words := (n + 63) / 64
	return &bitMatrix{n: n, words: words, bits: make([]uint64, n*words)}
}

func (m *bitMatrix) set(i, j int) {
	m.bits[i*m.words+j/64] |= 1 << (uint(j) % 64)
}

func (m *bitMatrix) test(i, j int) bool {
	return m.bits[i*m.words+j/64]&(1<<(uint(j)%64)) != 0
}

func (m *bitMatrix) orRow(dst, src int) {
	d := m.bits[dst*m.words : (dst+1)*m.words]
	s := m.bits[src*m.words : (src+1)*m.words]
	for w := range d {
		d[w] |= s[w]
	}
}

// GraphInfo is the cached result of validating a DAG: the topological order,
// the transitive reduction and closure, the reachability matrix, and the
// partition of node pairs into connected/disconnected.
type GraphInfo struct {
	TopoOrder []NodeID
	Reduction *Graph
	Closure   *Graph
	// Disconnected holds every unordered pair with no path either way,
	// in topological order within each pair.
	Disconnected [][2]NodeID

	reach   *bitMatrix
	topoPos map[NodeID]int
}

// Reachable reports whether a path exists from one node to the other.
func (gi *GraphInfo) Reachable(from, to NodeID) bool {
	i, okI := gi.topoPos[from]
	j, okJ := gi.topoPos[to]
	if !okI || !okJ {
		return false
	}
	return gi.reach.test(i, j)
}

// Connected reports whether a path exists in either direction.
func (gi *GraphInfo) Connected(a, b NodeID) bool {
	return gi.Reachable(a, b) || gi.Reachable(b, a)
}

// CheckGraph validates the graph and computes, in a single reverse pass over
// the topological order (Habib, Morvan, Rampon), the transitive reduction,
// the transitive closure, the bit-packed reachability matrix, and the
// connected/disconnected pair partition. When the graph is not acyclic it
// returns a ScheduleCycleError listing every elementary cycle instead.
func (g *Graph) CheckGraph() (*GraphInfo, error) {
	order, acyclic := g.topoSort()
	if !acyclic {
		cycles := g.EnumerateCycles()
		return nil, ScheduleCycleError{Cycles: cycles}
	}
	n := len(g.nodes)
	topoPos := make([]int, n)
	for pos, node := range order {
		topoPos[node] = pos
	}

	reach := newBitMatrix(n)
	reduction := NewGraph()
	closure := NewGraph()
	for _, node := range g.nodes {
		reduction.AddNode(node)
		closure.AddNode(node)
	}

	for i := n - 1; i >= 0; i-- {
		u := order[i]
		succs := slices.Clone(g.succ[u])
		slices.SortFunc(succs, func(a, b int) int {
			return topoPos[a] - topoPos[b]
		})
		for _, v := range succs {
			j := topoPos[v]
			if reach.test(i, j) {
				// Already reachable through a kept edge: redundant, closure only.
				continue
			}
			reduction.AddEdge(g.nodes[u], g.nodes[v])
			reach.set(i, j)
			reach.orRow(i, j)
		}
	}

	posIndex := make(map[NodeID]int, n)
	var disconnected [][2]NodeID
	for i := 0; i < n; i++ {
		posIndex[g.nodes[order[i]]] = i
		for j := i + 1; j < n; j++ {
			if reach.test(i, j) {
				closure.AddEdge(g.nodes[order[i]], g.nodes[order[j]])
			} else {
				disconnected = append(disconnected, [2]NodeID{g.nodes[order[i]], g.nodes[order[j]]})
			}
		}
	}

	topoNodes := make([]NodeID, n)
	for pos, node := range order {
		topoNodes[pos] = g.nodes[node]
	}
	return &GraphInfo{
		TopoOrder:    topoNodes,
		Reduction:    reduction,
		Closure:      closure,
		Disconnected: disconnected,
		reach:        reach,
		topoPos:      posIndex,
	}, nil
}
