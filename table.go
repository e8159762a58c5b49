package quarry

import (
	"unsafe"
)

// zeroSized backs pointers handed out for zero-size component types.
var zeroSized byte

type column struct {
	comp    Component
	offset  uintptr
	added   []uint32
	changed []uint32
	// borrow tracks runtime access on the dynamic path:
	// 0 free, >0 shared reader count, -1 unique.
	borrow int32
}

// table is one archetype's columnar storage: a single byte buffer holding one
// column per component type, plus the entity-id array and change ticks.
// Columns follow the archetype's component order (descending alignment, then
// id) so offsets pack tightly.
type table struct {
	comps    []Component
	cols     []column
	slots    map[ComponentID]int
	data     []byte
	entities []Entity
	len      int
	cap      int
}

func newTable(comps []Component, initialCap int) *table {
	t := &table{
		comps: comps,
		cols:  make([]column, len(comps)),
		slots: make(map[ComponentID]int, len(comps)),
	}
	for i, c := range comps {
		t.cols[i].comp = c
		t.slots[c.ID()] = i
	}
	if initialCap > 0 {
		t.grow(initialCap)
	}
	return t
}

// computeOffsets lays the columns out for the given row capacity. Offsets are
// always recomputed from scratch because each depends on the total capacity of
// every column before it.
func computeOffsets(comps []Component, rows int) ([]uintptr, uintptr) {
	offsets := make([]uintptr, len(comps))
	var cursor uintptr
	for i, c := range comps {
		if a := c.Align(); a > 1 {
			cursor = (cursor + a - 1) &^ (a - 1)
		}
		offsets[i] = cursor
		cursor += c.Size() * uintptr(rows)
	}
	return offsets, cursor
}

func (t *table) Len() int { return t.len }
func (t *table) Cap() int { return t.cap }

func (t *table) slot(id ComponentID) (int, bool) {
	s, ok := t.slots[id]
	return s, ok
}

func (t *table) contains(c Component) bool {
	_, ok := t.slots[c.ID()]
	return ok
}

// assertRow guards the row-bound contract on type-erased access. Exceeding the
// logical length is a programmer error, not a recoverable condition.
func (t *table) assertRow(row int) {
	if row < 0 || row >= t.len {
		panic(RowOutOfBoundsError{Row: row, Len: t.len})
	}
}

// allocate appends a row for the entity, growing geometrically if full. The
// caller must write every column for this row before any reader observes it;
// columns are zeroed here so drops of untouched rows stay safe.
func (t *table) allocate(e Entity, tick uint32) int {
	if t.len == t.cap {
		additional := t.cap
		if Config.growHint > 0 {
			additional = Config.growHint
		}
		if additional == 0 {
			additional = Config.initialCapacity
		}
		t.grow(additional)
	}
	row := t.len
	t.entities[row] = e
	for i := range t.cols {
		c := &t.cols[i]
		if size := c.comp.Size(); size > 0 {
			b := t.rowBytes(i, row)
			for j := range b {
				b[j] = 0
			}
		}
		c.added[row] = tick
		c.changed[row] = tick
	}
	t.len++
	return row
}

// grow allocates a buffer sized for the new capacity, recomputes every column
// offset, and copies each column's occupied rows across. Existing row bytes
// are preserved verbatim.
func (t *table) grow(additional int) {
	newCap := t.cap + additional
	offsets, total := computeOffsets(t.comps, newCap)

	newData := make([]byte, total)
	for i := range t.cols {
		c := &t.cols[i]
		size := c.comp.Size()
		if size > 0 && t.len > 0 {
			old := t.data[c.offset : c.offset+size*uintptr(t.len)]
			copy(newData[offsets[i]:], old)
		}
		c.offset = offsets[i]

		added := make([]uint32, newCap)
		copy(added, c.added)
		c.added = added
		changed := make([]uint32, newCap)
		copy(changed, c.changed)
		c.changed = changed
	}
	t.data = newData

	entities := make([]Entity, newCap)
	copy(entities, t.entities)
	t.entities = entities
	t.cap = newCap
}

// remove drops every column's value at row, then swap-removes: if row is not
// last, the last row's bytes are copied into row and the moved entity is
// returned so the caller can patch its location in the same operation.
func (t *table) remove(row int) (Entity, bool) {
	t.assertRow(row)
	for i := range t.cols {
		if drop := t.cols[i].comp.Drop(); drop != nil {
			drop(t.ptrAt(i, row))
		}
	}
	return t.swapRemove(row)
}

// moveTo is identical bookkeeping to remove, but instead of dropping each
// value it forwards the raw pointer to the sink. The sink must fully consume
// (copy or drop) the value before returning; the bytes are reused immediately.
func (t *table) moveTo(row int, sink func(c Component, ptr unsafe.Pointer)) (Entity, bool) {
	t.assertRow(row)
	for i := range t.cols {
		sink(t.cols[i].comp, t.ptrAt(i, row))
	}
	return t.swapRemove(row)
}

func (t *table) swapRemove(row int) (Entity, bool) {
	last := t.len - 1
	var moved Entity
	didMove := row != last
	if didMove {
		for i := range t.cols {
			c := &t.cols[i]
			if c.comp.Size() > 0 {
				copy(t.rowBytes(i, row), t.rowBytes(i, last))
			}
			c.added[row] = c.added[last]
			c.changed[row] = c.changed[last]
		}
		moved = t.entities[last]
		t.entities[row] = moved
	}
	t.len = last
	return moved, didMove
}

// drain drops every remaining row. Called when the owning storage is closed.
func (t *table) drain() {
	for i := range t.cols {
		drop := t.cols[i].comp.Drop()
		if drop == nil {
			continue
		}
		for row := 0; row < t.len; row++ {
			drop(t.ptrAt(i, row))
		}
	}
	t.len = 0
}

func (t *table) rowBytes(slot, row int) []byte {
	c := &t.cols[slot]
	size := c.comp.Size()
	start := c.offset + size*uintptr(row)
	return t.data[start : start+size : start+size]
}

// ptrAt returns the byte pointer at offset(type) + size*row. The Go allocator
// word-aligns byte buffers and column offsets respect each type's alignment,
// so the pointer is safe to cast to the component type.
func (t *table) ptrAt(slot, row int) unsafe.Pointer {
	c := &t.cols[slot]
	size := c.comp.Size()
	if size == 0 {
		return unsafe.Pointer(&zeroSized)
	}
	return unsafe.Pointer(&t.data[c.offset+size*uintptr(row)])
}

// getDynamic is the type-erased access path. Row bounds are asserted; callers
// on the dynamic path must also hold the column borrow.
func (t *table) getDynamic(id ComponentID, row int) (unsafe.Pointer, bool) {
	slot, ok := t.slots[id]
	if !ok {
		return nil, false
	}
	t.assertRow(row)
	return t.ptrAt(slot, row), true
}

// writeRaw copies size bytes from src into the row's column cell.
func (t *table) writeRaw(slot, row int, src unsafe.Pointer) {
	size := t.cols[slot].comp.Size()
	if size == 0 {
		return
	}
	copy(t.rowBytes(slot, row), unsafe.Slice((*byte)(src), size))
}

func (t *table) markChanged(slot, row int, tick uint32) {
	t.cols[slot].changed[row] = tick
}

// Runtime borrow accounting for the dynamic access path. Violations are logic
// errors reported to the caller; the typed path is checked at construction and
// never touches these counters.

func (t *table) acquireShared(slot int) error {
	c := &t.cols[slot]
	if c.borrow < 0 {
		return BorrowError{Component: c.comp, Unique: false}
	}
	c.borrow++
	return nil
}

func (t *table) acquireUnique(slot int) error {
	c := &t.cols[slot]
	if c.borrow != 0 {
		return BorrowError{Component: c.comp, Unique: true}
	}
	c.borrow = -1
	return nil
}

func (t *table) releaseShared(slot int) {
	c := &t.cols[slot]
	if c.borrow > 0 {
		c.borrow--
	}
}

func (t *table) releaseUnique(slot int) {
	c := &t.cols[slot]
	if c.borrow == -1 {
		c.borrow = 0
	}
}
