package quarry

import (
	"fmt"
	"strings"

	"github.com/TheBitDrifter/mask"
)

// TermOp is the operator of one atomic access descriptor.
type TermOp uint8

const (
	// OpEntity fetches only the entity handle.
	OpEntity TermOp = iota
	// OpRead borrows the component immutably.
	OpRead
	// OpWrite borrows the component mutably.
	OpWrite
	// OpWith filters on presence without fetching data.
	OpWith
	// OpWithout filters on absence.
	OpWithout
	// OpOptional fetches the component immutably when present.
	OpOptional
	// OpAdded filters on rows whose component was added since the query last ran.
	OpAdded
	// OpChanged filters on rows whose component changed since the query last ran.
	OpChanged
	// OpOr matches when any nested sub-term matches; sub-term data is consumed
	// but not exposed.
	OpOr
	// OpAnyOf matches when at least one nested sub-term matches and exposes
	// each sub-term's result as optional.
	OpAnyOf
)

func (op TermOp) String() string {
	switch op {
	case OpEntity:
		return "Entity"
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpWith:
		return "With"
	case OpWithout:
		return "Without"
	case OpOptional:
		return "Optional"
	case OpAdded:
		return "Added"
	case OpChanged:
		return "Changed"
	case OpOr:
		return "Or"
	case OpAnyOf:
		return "AnyOf"
	}
	return "Unknown"
}

// Term is one atomic access descriptor: a component (nil for entity-only and
// composite terms), an operator, and a change-detection flag. Composite terms
// wrap an ordered sub-list.
type Term struct {
	Comp Component
	Op   TermOp
	// Detect marks the term as change-detecting; set by Added/Changed.
	Detect bool
	// Dynamic marks a term resolved at runtime rather than construction time;
	// dynamic terms go through the column borrow counters.
	Dynamic bool
	Sub     []Term
}

func EntityTerm() Term          { return Term{Op: OpEntity} }
func Read(c Component) Term     { return Term{Comp: c, Op: OpRead} }
func Write(c Component) Term    { return Term{Comp: c, Op: OpWrite} }
func With(c Component) Term     { return Term{Comp: c, Op: OpWith} }
func Without(c Component) Term  { return Term{Comp: c, Op: OpWithout} }
func Optional(c Component) Term { return Term{Comp: c, Op: OpOptional} }
func Added(c Component) Term    { return Term{Comp: c, Op: OpAdded, Detect: true} }
func Changed(c Component) Term  { return Term{Comp: c, Op: OpChanged, Detect: true} }
func Or(sub ...Term) Term       { return Term{Op: OpOr, Sub: sub} }
func AnyOf(sub ...Term) Term    { return Term{Op: OpAnyOf, Sub: sub} }

// Ptr is the fully dynamic escape hatch: identical fetch machinery to Read,
// with the component resolved at runtime and access checked by the column
// borrow counters instead of at construction.
func Ptr(c Component) Term { return Term{Comp: c, Op: OpRead, Dynamic: true} }

// PtrMut is the mutable counterpart of Ptr.
func PtrMut(c Component) Term { return Term{Comp: c, Op: OpWrite, Dynamic: true} }

// termAccess is the resolved access pattern of one fetch plan.
type termAccess struct {
	reads    mask.Mask
	writes   mask.Mask
	required mask.Mask
	excluded mask.Mask
}

func bit(schema Schema, c Component) mask.Mask {
	var m mask.Mask
	m.Mark(schema.Register(c))
	return m
}

// buildAccess registers every term's component and verifies that the plan's
// Read/Write sets do not alias: a Write conflicts with any other access to the
// same component. Composite sub-terms participate in the check.
func buildAccess(schema Schema, terms []Term) (termAccess, error) {
	var acc termAccess
	var walk func(t Term, topLevel bool) error
	walk = func(t Term, topLevel bool) error {
		switch t.Op {
		case OpEntity:
			return nil
		case OpOr, OpAnyOf:
			if len(t.Sub) < 2 {
				return TermArityError{Expected: 2, Got: len(t.Sub)}
			}
			for _, sub := range t.Sub {
				if err := walk(sub, false); err != nil {
					return err
				}
			}
			return nil
		}
		b := bit(schema, t.Comp)
		switch t.Op {
		case OpRead, OpOptional, OpAdded, OpChanged:
			if acc.writes.ContainsAny(b) {
				return ConflictingAccessError{Component: t.Comp}
			}
			acc.reads.Mark(schema.RowIndexFor(t.Comp))
			if topLevel && t.Op != OpOptional {
				acc.required.Mark(schema.RowIndexFor(t.Comp))
			}
		case OpWrite:
			if acc.writes.ContainsAny(b) || acc.reads.ContainsAny(b) {
				return ConflictingAccessError{Component: t.Comp}
			}
			acc.writes.Mark(schema.RowIndexFor(t.Comp))
			if topLevel {
				acc.required.Mark(schema.RowIndexFor(t.Comp))
			}
		case OpWith:
			if topLevel {
				acc.required.Mark(schema.RowIndexFor(t.Comp))
			}
		case OpWithout:
			if topLevel {
				acc.excluded.Mark(schema.RowIndexFor(t.Comp))
			}
		}
		return nil
	}
	for _, t := range terms {
		if err := walk(t, true); err != nil {
			return termAccess{}, err
		}
	}
	return acc, nil
}

// conflictsWith reports whether two access patterns cannot run concurrently:
// either side writes what the other reads or writes.
func (a termAccess) conflictsWith(b termAccess) bool {
	return a.writes.ContainsAny(b.writes) ||
		a.writes.ContainsAny(b.reads) ||
		b.writes.ContainsAny(a.reads)
}

// subsetOf reports whether a requests no access beyond b's, treating b's
// writes as satisfying a's reads.
func (a termAccess) subsetOf(b termAccess) bool {
	for i := uint32(0); i < maxSchemaComponents; i++ {
		var probe mask.Mask
		probe.Mark(i)
		if a.reads.ContainsAny(probe) || a.writes.ContainsAny(probe) {
			if !b.reads.ContainsAny(probe) && !b.writes.ContainsAny(probe) {
				return false
			}
		}
		if a.writes.ContainsAny(probe) && !b.writes.ContainsAny(probe) {
			return false
		}
	}
	return true
}

// sameFilter reports whether two access patterns match the same archetypes.
func (a termAccess) sameFilter(b termAccess) bool {
	return a.required == b.required && a.excluded == b.excluded
}

// matchArchetype is the structural (archetype-level) filter.
func matchArchetype(a *archetype, terms []Term, acc termAccess) bool {
	am := a.Mask()
	if !am.ContainsAll(acc.required) || am.ContainsAny(acc.excluded) {
		return false
	}
	for _, t := range terms {
		if t.Op == OpOr || t.Op == OpAnyOf {
			if !compositeMatches(a, t) {
				return false
			}
		}
	}
	return true
}

func compositeMatches(a *archetype, t Term) bool {
	for _, sub := range t.Sub {
		if termMatches(a, sub) {
			return true
		}
	}
	return false
}

func termMatches(a *archetype, t Term) bool {
	switch t.Op {
	case OpEntity, OpOptional:
		return true
	case OpWithout:
		return !a.Contains(t.Comp)
	case OpOr, OpAnyOf:
		return compositeMatches(a, t)
	default:
		return a.Contains(t.Comp)
	}
}

// rowMatches applies the change-detecting (row-level) part of the filter.
func rowMatches(a *archetype, row int, terms []Term, lastRun uint32) bool {
	for _, t := range terms {
		if !rowTermMatches(a, row, t, lastRun) {
			return false
		}
	}
	return true
}

func rowTermMatches(a *archetype, row int, t Term, lastRun uint32) bool {
	switch t.Op {
	case OpAdded, OpChanged:
		slot, ok := a.tbl.slot(t.Comp.ID())
		if !ok {
			return false
		}
		if t.Op == OpAdded {
			return a.tbl.cols[slot].added[row] > lastRun
		}
		return a.tbl.cols[slot].changed[row] > lastRun
	case OpOr, OpAnyOf:
		for _, sub := range t.Sub {
			if termMatches(a, sub) && rowTermMatches(a, row, sub, lastRun) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// signature is a stable key for the fetch-plan cache.
func signature(terms []Term) string {
	var sb strings.Builder
	var walk func(t Term)
	walk = func(t Term) {
		if t.Comp != nil {
			fmt.Fprintf(&sb, "%d", t.Comp.ID())
		}
		fmt.Fprintf(&sb, ":%d", t.Op)
		if t.Dynamic {
			sb.WriteString("*")
		}
		if len(t.Sub) > 0 {
			sb.WriteString("(")
			for _, sub := range t.Sub {
				walk(sub)
			}
			sb.WriteString(")")
		}
		sb.WriteString(",")
	}
	for _, t := range terms {
		walk(t)
	}
	return sb.String()
}
