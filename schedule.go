package quarry

import (
	"fmt"

	"github.com/TheBitDrifter/mask"
	"go.uber.org/zap"
)

// Ambiguity is a pair of systems with no ordering between them whose
// component accesses conflict, so their relative execution order is
// observable.
type Ambiguity struct {
	A, B       NodeID
	Components []Component
}

type ambiguityKind uint8

const (
	ambiguityCheck ambiguityKind = iota
	ambiguityIgnoreWithSets
	ambiguityIgnoreAll
)

// AmbiguityPolicy controls which conflict reports a system participates in.
type AmbiguityPolicy struct {
	kind ambiguityKind
	sets []NodeID
}

// AmbiguityCheck reports every conflicting unordered pair. This is the
// default policy.
func AmbiguityCheck() AmbiguityPolicy {
	return AmbiguityPolicy{kind: ambiguityCheck}
}

// AmbiguityIgnoreAll suppresses every report involving the system.
func AmbiguityIgnoreAll() AmbiguityPolicy {
	return AmbiguityPolicy{kind: ambiguityIgnoreAll}
}

// AmbiguityIgnoreWithSets suppresses reports against members of the given
// sets only.
func AmbiguityIgnoreWithSets(sets ...NodeID) AmbiguityPolicy {
	return AmbiguityPolicy{kind: ambiguityIgnoreWithSets, sets: sets}
}

type systemNode struct {
	name   string
	terms  []Term
	access termAccess
	sets   []int
	policy AmbiguityPolicy
}

type setNode struct {
	name    string
	members []int
}

// ScheduleBuilder accumulates systems, sets, and ordering constraints, then
// validates them into an executable order.
type ScheduleBuilder struct {
	schema  Schema
	systems []systemNode
	sets    []setNode
	edges   [][2]NodeID
	log     *zap.Logger
	strict  bool
}

type ScheduleOption func(*ScheduleBuilder)

// WithLogger routes validation diagnostics to the given logger.
func WithLogger(log *zap.Logger) ScheduleOption {
	return func(b *ScheduleBuilder) { b.log = log }
}

// WithAmbiguityErrors escalates ambiguity warnings into a build failure.
func WithAmbiguityErrors() ScheduleOption {
	return func(b *ScheduleBuilder) { b.strict = true }
}

func NewScheduleBuilder(schema Schema, opts ...ScheduleOption) *ScheduleBuilder {
	b := &ScheduleBuilder{
		schema: schema,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSystem declares a system by name together with the terms describing its
// component access. Access conflicts inside the terms surface at Build.
func (b *ScheduleBuilder) AddSystem(name string, terms ...Term) NodeID {
	id := SystemNode(len(b.systems))
	b.systems = append(b.systems, systemNode{
		name:   name,
		terms:  terms,
		policy: AmbiguityCheck(),
	})
	return id
}

// AddSet declares an empty named set. Ordering edges attached to a set apply
// to every member system.
func (b *ScheduleBuilder) AddSet(name string) NodeID {
	id := SetNode(len(b.sets))
	b.sets = append(b.sets, setNode{name: name})
	return id
}

// InSet records set membership. The first argument must be a system and the
// second a set.
func (b *ScheduleBuilder) InSet(system, set NodeID) {
	if system.Kind != NodeSystem || set.Kind != NodeSet {
		panic(fmt.Sprintf("InSet requires (system, set), got (%v, %v)", system, set))
	}
	b.checkNode(system)
	b.checkNode(set)
	b.sets[set.Index].members = append(b.sets[set.Index].members, system.Index)
	b.systems[system.Index].sets = append(b.systems[system.Index].sets, set.Index)
}

// Before constrains every system covered by the first node to run before
// every system covered by the second.
func (b *ScheduleBuilder) Before(first, second NodeID) {
	b.checkNode(first)
	b.checkNode(second)
	b.edges = append(b.edges, [2]NodeID{first, second})
}

// After is Before with the arguments flipped.
func (b *ScheduleBuilder) After(second, first NodeID) {
	b.Before(first, second)
}

// SetAmbiguityPolicy overrides the conflict-report policy of one system.
func (b *ScheduleBuilder) SetAmbiguityPolicy(system NodeID, p AmbiguityPolicy) {
	if system.Kind != NodeSystem {
		panic(fmt.Sprintf("ambiguity policy applies to systems, got %v", system))
	}
	b.checkNode(system)
	b.systems[system.Index].policy = p
}

func (b *ScheduleBuilder) checkNode(n NodeID) {
	switch n.Kind {
	case NodeSystem:
		if n.Index < 0 || n.Index >= len(b.systems) {
			panic(fmt.Sprintf("unknown system node %v", n))
		}
	case NodeSet:
		if n.Index < 0 || n.Index >= len(b.sets) {
			panic(fmt.Sprintf("unknown set node %v", n))
		}
	}
}

// expand resolves a node to the system indices it covers.
func (b *ScheduleBuilder) expand(n NodeID) []int {
	if n.Kind == NodeSystem {
		return []int{n.Index}
	}
	return b.sets[n.Index].members
}

// Build resolves every system's access, expands set-level edges to their
// member systems, validates the resulting graph, and computes the ambiguity
// report. Cycles always fail the build; ambiguities fail it only under
// WithAmbiguityErrors.
func (b *ScheduleBuilder) Build() (*Schedule, error) {
	for i := range b.systems {
		sys := &b.systems[i]
		access, err := buildAccess(b.schema, sys.terms)
		if err != nil {
			return nil, fmt.Errorf("system %q: %w", sys.name, err)
		}
		sys.access = access
	}

	g := NewGraph()
	for i := range b.systems {
		g.AddNode(SystemNode(i))
	}
	for _, edge := range b.edges {
		for _, from := range b.expand(edge[0]) {
			for _, to := range b.expand(edge[1]) {
				g.AddEdge(SystemNode(from), SystemNode(to))
			}
		}
	}

	sched := &Schedule{
		systems: b.systems,
		sets:    b.sets,
		schema:  b.schema,
	}
	info, err := g.CheckGraph()
	if err != nil {
		if cycleErr, ok := err.(ScheduleCycleError); ok {
			cycleErr.names = sched.Name
			b.log.Error("schedule graph contains cycles",
				zap.Int("cycles", len(cycleErr.Cycles)))
			return nil, cycleErr
		}
		return nil, err
	}
	sched.info = info

	for _, pair := range info.Disconnected {
		a, bb := pair[0], pair[1]
		if b.ignored(a, bb) || b.ignored(bb, a) {
			continue
		}
		comps := b.conflictComponents(a, bb)
		if len(comps) == 0 {
			continue
		}
		sched.ambiguities = append(sched.ambiguities, Ambiguity{A: a, B: bb, Components: comps})
	}

	for _, amb := range sched.ambiguities {
		names := make([]string, len(amb.Components))
		for i, c := range amb.Components {
			names[i] = c.Type().String()
		}
		b.log.Warn("systems access conflicting components with no relative ordering",
			zap.String("first", sched.Name(amb.A)),
			zap.String("second", sched.Name(amb.B)),
			zap.Strings("components", names),
		)
	}
	if len(sched.ambiguities) > 0 {
		b.log.Warn("schedule contains execution-order ambiguities",
			zap.Int("count", len(sched.ambiguities)))
		if b.strict {
			return nil, ScheduleAmbiguityError{Ambiguities: sched.ambiguities}
		}
	}
	return sched, nil
}

// ignored reports whether a's policy suppresses reports against b.
func (b *ScheduleBuilder) ignored(a, other NodeID) bool {
	policy := b.systems[a.Index].policy
	switch policy.kind {
	case ambiguityIgnoreAll:
		return true
	case ambiguityIgnoreWithSets:
		for _, set := range policy.sets {
			for _, member := range b.sets[set.Index].members {
				if member == other.Index {
					return true
				}
			}
		}
	}
	return false
}

// conflictComponents lists the components over which two systems' accesses
// collide: a write on one side against any access on the other.
func (b *ScheduleBuilder) conflictComponents(a, bb NodeID) []Component {
	accA := b.systems[a.Index].access
	accB := b.systems[bb.Index].access
	var comps []Component
	for row := 0; row < b.schema.Len(); row++ {
		var probe mask.Mask
		probe.Mark(uint32(row))
		aWrites := accA.writes.ContainsAny(probe)
		aTouches := aWrites || accA.reads.ContainsAny(probe)
		bWrites := accB.writes.ContainsAny(probe)
		bTouches := bWrites || accB.reads.ContainsAny(probe)
		if (aWrites && bTouches) || (bWrites && aTouches) {
			comps = append(comps, b.schema.ComponentAtRow(uint32(row)))
		}
	}
	return comps
}

// Schedule is a validated system ordering with its cached graph analysis.
type Schedule struct {
	systems     []systemNode
	sets        []setNode
	schema      Schema
	info        *GraphInfo
	ambiguities []Ambiguity
}

// Order returns the systems in a valid execution order.
func (s *Schedule) Order() []NodeID {
	return s.info.TopoOrder
}

// Name resolves a node to its declared name.
func (s *Schedule) Name(n NodeID) string {
	switch n.Kind {
	case NodeSystem:
		if n.Index >= 0 && n.Index < len(s.systems) {
			return s.systems[n.Index].name
		}
	case NodeSet:
		if n.Index >= 0 && n.Index < len(s.sets) {
			return s.sets[n.Index].name
		}
	}
	return n.String()
}

// Ambiguities returns the unresolved conflict pairs found at build time.
func (s *Schedule) Ambiguities() []Ambiguity {
	return s.ambiguities
}

// Ordered reports whether one system is constrained to run before another,
// directly or transitively.
func (s *Schedule) Ordered(first, second NodeID) bool {
	return s.info.Reachable(first, second)
}

// CanRunConcurrently reports whether two systems may execute at the same
// time: they must be unordered and their accesses must not conflict.
func (s *Schedule) CanRunConcurrently(a, b NodeID) bool {
	if s.info.Connected(a, b) {
		return false
	}
	return !s.systems[a.Index].access.conflictsWith(s.systems[b.Index].access)
}

// Graph exposes the cached analysis for executors and tooling.
func (s *Schedule) Graph() *GraphInfo {
	return s.info
}
