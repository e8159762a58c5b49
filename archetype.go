package quarry

import (
	"iter"
	"slices"

	"github.com/TheBitDrifter/mask"
)

type archetypeID uint32

type archetype struct {
	id   archetypeID
	mask mask.Mask
	tbl  *table
}

// sortComponents orders a signature by descending alignment then ascending id
// (the packing order), and removes duplicates. The result is the archetype's
// immutable component list.
func sortComponents(components []Component) []Component {
	sorted := slices.Clone(components)
	slices.SortFunc(sorted, func(a, b Component) int {
		if a.Align() != b.Align() {
			if a.Align() > b.Align() {
				return -1
			}
			return 1
		}
		if a.ID() < b.ID() {
			return -1
		}
		if a.ID() > b.ID() {
			return 1
		}
		return 0
	})
	return slices.CompactFunc(sorted, func(a, b Component) bool {
		return a.ID() == b.ID()
	})
}

func newArchetype(schema Schema, id archetypeID, components ...Component) (archetype, error) {
	if len(components) == 0 {
		return archetype{}, EmptyArchetypeError{}
	}
	sorted := sortComponents(components)
	var m mask.Mask
	for _, c := range sorted {
		schema.Register(c)
		m.Mark(schema.RowIndexFor(c))
	}
	return archetype{
		id:   id,
		mask: m,
		tbl:  newTable(sorted, 0),
	}, nil
}

func (a archetype) ID() uint32 {
	return uint32(a.id)
}

func (a archetype) Mask() mask.Mask {
	return a.mask
}

func (a archetype) Length() int {
	return a.tbl.Len()
}

func (a archetype) Contains(c Component) bool {
	return a.tbl.contains(c)
}

// EntityAt returns the entity occupying the given row.
func (a archetype) EntityAt(row int) Entity {
	a.tbl.assertRow(row)
	return a.tbl.entities[row]
}

func (a archetype) Components() iter.Seq[Component] {
	return func(yield func(Component) bool) {
		for _, c := range a.tbl.comps {
			if !yield(c) {
				return
			}
		}
	}
}
