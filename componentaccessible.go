package quarry

import (
	"reflect"
	"unsafe"
)

// AccessibleComponent pairs a registered component with typed access. It
// provides methods to retrieve component values using different access
// patterns, and builders for query terms over the component.
type AccessibleComponent[T any] struct {
	Component
}

// FactoryNewComponent registers T (once per process) and returns its
// accessible handle. Repeated calls for the same T return the same identity.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	var zero T
	ct := registerComponentType(reflect.TypeOf(zero), nil)
	return AccessibleComponent[T]{Component: ct}
}

// FactoryNewComponentWithDrop registers T with a drop descriptor invoked
// whenever a value is removed, replaced, or despawned. The descriptor is kept
// only for the first registration of T.
func FactoryNewComponentWithDrop[T any](drop func(*T)) AccessibleComponent[T] {
	var zero T
	ct := registerComponentType(reflect.TypeOf(zero), func(ptr unsafe.Pointer) {
		drop((*T)(ptr))
	})
	return AccessibleComponent[T]{Component: ct}
}

// GetFromCursor retrieves the component value for the entity at the cursor
// position.
func (c AccessibleComponent[T]) GetFromCursor(cursor *Cursor) *T {
	tbl := cursor.currentArchetype.tbl
	slot, ok := tbl.slot(c.ID())
	if !ok {
		return nil
	}
	return (*T)(tbl.ptrAt(slot, cursor.entityIndex-1))
}

// GetFromCursorSafe safely retrieves a component value, checking if the
// component exists in the cursor's archetype.
func (c AccessibleComponent[T]) GetFromCursorSafe(cursor *Cursor) (bool, *T) {
	if !c.CheckCursor(cursor) {
		return false, nil
	}
	return true, c.GetFromCursor(cursor)
}

// CheckCursor determines if the component exists in the archetype at the
// cursor position.
func (c AccessibleComponent[T]) CheckCursor(cursor *Cursor) bool {
	return cursor.currentArchetype.tbl.contains(c.Component)
}

// MutFromCursor retrieves the component with its change-detection wrapper.
func (c AccessibleComponent[T]) MutFromCursor(cursor *Cursor) Mut[T] {
	tbl := cursor.currentArchetype.tbl
	slot, ok := tbl.slot(c.ID())
	if !ok {
		return Mut[T]{}
	}
	row := cursor.entityIndex - 1
	return Mut[T]{
		ptr:        (*T)(tbl.ptrAt(slot, row)),
		changedRef: &tbl.cols[slot].changed[row],
		tick:       cursor.storage.tick,
	}
}

// GetFromEntity retrieves the component value for the specified entity.
func (c AccessibleComponent[T]) GetFromEntity(sto Storage, e Entity) (*T, bool) {
	s := sto.(*storage)
	meta, err := s.resolve(e)
	if err != nil {
		return nil, false
	}
	tbl := s.archetypeByID(meta.loc.Archetype).tbl
	slot, ok := tbl.slot(c.ID())
	if !ok {
		return nil, false
	}
	return (*T)(tbl.ptrAt(slot, meta.loc.Row)), true
}

// Insert writes the value onto the entity, adding the component if absent and
// replacing (with hooks) if present.
func (c AccessibleComponent[T]) Insert(sto Storage, e Entity, value T) error {
	return sto.InsertRaw(e, c.Component, unsafe.Pointer(&value))
}

// Term builders over this component.

func (c AccessibleComponent[T]) Read() Term     { return Read(c.Component) }
func (c AccessibleComponent[T]) Mut() Term      { return Write(c.Component) }
func (c AccessibleComponent[T]) With() Term     { return With(c.Component) }
func (c AccessibleComponent[T]) Without() Term  { return Without(c.Component) }
func (c AccessibleComponent[T]) Optional() Term { return Optional(c.Component) }
func (c AccessibleComponent[T]) Added() Term    { return Added(c.Component) }
func (c AccessibleComponent[T]) Changed() Term  { return Changed(c.Component) }
