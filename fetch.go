package quarry

import "unsafe"

// FetchedTerm is one term's resolved result for one row: a possibly-nil
// pointer, the row's change-tick pair, and whether the term matched. Composite
// terms carry their sub-results in Sub.
type FetchedTerm struct {
	Ptr     unsafe.Pointer
	Added   uint32
	Changed uint32
	Matched bool
	Sub     []FetchedTerm

	changedRef *uint32
}

// FetchedItem is the result of fetching one entity through a plan: the entity
// handle plus one FetchedTerm per declared term, in declaration order.
type FetchedItem struct {
	Entity Entity
	Terms  []FetchedTerm

	tick    uint32
	release func()
}

// Release returns the column borrows held by a dynamic-plan Get. Items from
// typed plans or cursor iteration hold no borrows of their own, so Release
// is a no-op for them.
func (it *FetchedItem) Release() {
	if it.release != nil {
		it.release()
		it.release = nil
	}
}

// Mut wraps a mutable component reference with change detection: dereferencing
// through Get marks the row changed at the current tick.
type Mut[T any] struct {
	ptr        *T
	changedRef *uint32
	tick       uint32
}

// Get returns the mutable reference and marks the component changed.
func (m Mut[T]) Get() *T {
	if m.changedRef != nil {
		*m.changedRef = m.tick
	}
	return m.ptr
}

// Peek returns the reference without marking a change.
func (m Mut[T]) Peek() *T {
	return m.ptr
}

// TermRef produces the immutable reference for term i. Nil when the term did
// not match (which cannot happen for non-optional Read terms on a fetched
// item).
func TermRef[T any](item FetchedItem, i int) *T {
	ft := item.Terms[i]
	if !ft.Matched || ft.Ptr == nil {
		return nil
	}
	return (*T)(ft.Ptr)
}

// TermMut produces the mutable reference with its change-detection wrapper.
func TermMut[T any](item FetchedItem, i int) Mut[T] {
	ft := item.Terms[i]
	return Mut[T]{
		ptr:        (*T)(ft.Ptr),
		changedRef: ft.changedRef,
		tick:       item.tick,
	}
}

// TermHas reports whether term i matched; the item for a pure filter term.
func TermHas(item FetchedItem, i int) bool {
	return item.Terms[i].Matched
}

// TermOption produces the optional reference for term i, gated on the matched
// flag.
func TermOption[T any](item FetchedItem, i int) (*T, bool) {
	ft := item.Terms[i]
	if !ft.Matched || ft.Ptr == nil {
		return nil, false
	}
	return (*T)(ft.Ptr), true
}

// TermSubOption exposes sub-term j of composite term i (AnyOf results).
func TermSubOption[T any](item FetchedItem, i, j int) (*T, bool) {
	ft := item.Terms[i].Sub[j]
	if !ft.Matched || ft.Ptr == nil {
		return nil, false
	}
	return (*T)(ft.Ptr), true
}

// TermPtr is the dynamic escape hatch: the raw pointer for term i.
func TermPtr(item FetchedItem, i int) unsafe.Pointer {
	return item.Terms[i].Ptr
}
