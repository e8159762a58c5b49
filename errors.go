package quarry

import (
	"fmt"
	"strings"
)

type LockedStorageError struct{}

func (e LockedStorageError) Error() string {
	return "storage is currently locked"
}

type EmptyArchetypeError struct{}

func (e EmptyArchetypeError) Error() string {
	return "archetype requires at least one component"
}

type ComponentExistsError struct {
	Component Component
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity: %v", e.Component.Type())
}

type ComponentNotFoundError struct {
	Component Component
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity: %v", e.Component.Type())
}

// StaleEntityError reports a handle whose generation no longer matches the
// dense index, i.e. the entity was despawned and the slot reused.
type StaleEntityError struct {
	Entity Entity
}

func (e StaleEntityError) Error() string {
	return fmt.Sprintf("entity handle is stale: index %d generation %d", e.Entity.Index(), e.Entity.Generation())
}

type EntityNotFoundError struct {
	Entity Entity
}

func (e EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity not found: index %d", e.Entity.Index())
}

type EntityRelationError struct {
	child, parent Entity
}

func (e EntityRelationError) Error() string {
	return fmt.Sprintf("child (%d) already has parent %d", e.child.Index(), e.parent.Index())
}

// SchemaCapacityError reports a schema that ran out of mask bits.
type SchemaCapacityError struct {
	Component Component
}

func (e SchemaCapacityError) Error() string {
	return fmt.Sprintf("schema at maximum capacity (%d), cannot register %v", maxSchemaComponents, e.Component.Type())
}

// RowOutOfBoundsError is a programmer error: a row index past the logical
// length reached the storage engine. It is raised as a panic, never returned.
type RowOutOfBoundsError struct {
	Row int
	Len int
}

func (e RowOutOfBoundsError) Error() string {
	return fmt.Sprintf("row %d out of bounds (len %d)", e.Row, e.Len)
}

// ConflictingAccessError reports a fetch plan whose Read/Write terms alias.
type ConflictingAccessError struct {
	Component Component
}

func (e ConflictingAccessError) Error() string {
	return fmt.Sprintf("conflicting access: component %v requested mutably more than once or both read and written", e.Component.Type())
}

// BorrowError reports a runtime borrow violation on the dynamic access path.
type BorrowError struct {
	Component Component
	Unique    bool
}

func (e BorrowError) Error() string {
	kind := "shared"
	if e.Unique {
		kind = "unique"
	}
	return fmt.Sprintf("column for %v cannot be borrowed (%s): conflicting borrow outstanding", e.Component.Type(), kind)
}

// TermArityError reports a composite term declared with too few sub-terms to
// mean anything.
type TermArityError struct {
	Expected int
	Got      int
}

func (e TermArityError) Error() string {
	return fmt.Sprintf("composite term declared %d sub-terms, requires at least %d", e.Got, e.Expected)
}

// TermMismatchError reports an entity whose archetype does not satisfy the
// query's terms. Distinct from EntityNotFoundError so get_many callers can
// tell the two apart.
type TermMismatchError struct {
	Entity Entity
}

func (e TermMismatchError) Error() string {
	return fmt.Sprintf("entity %d does not match query terms", e.Entity.Index())
}

// CacheCapacityError reports a full SimpleCache.
type CacheCapacityError struct {
	Capacity int
}

func (e CacheCapacityError) Error() string {
	return fmt.Sprintf("cache at maximum capacity (%d)", e.Capacity)
}

// ScheduleCycleError carries every elementary cycle found while validating the
// dependency graph, so the diagnostic names the exact responsible nodes.
type ScheduleCycleError struct {
	Cycles [][]NodeID
	names  func(NodeID) string
}

func (e ScheduleCycleError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "schedule graph contains %d cycle(s):", len(e.Cycles))
	for _, cycle := range e.Cycles {
		sb.WriteString(" [")
		for i, n := range cycle {
			if i > 0 {
				sb.WriteString(" -> ")
			}
			if e.names != nil {
				sb.WriteString(e.names(n))
			} else {
				sb.WriteString(n.String())
			}
		}
		sb.WriteString("]")
	}
	return sb.String()
}

// ScheduleAmbiguityError is returned when the builder escalates ambiguity
// warnings to hard failures.
type ScheduleAmbiguityError struct {
	Ambiguities []Ambiguity
}

func (e ScheduleAmbiguityError) Error() string {
	return fmt.Sprintf("schedule contains %d unresolved ambiguity(ies)", len(e.Ambiguities))
}
