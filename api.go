package quarry

import (
	"iter"
	"unsafe"

	"github.com/TheBitDrifter/mask"
)

// Storage owns the archetypes and the dense entity index. Structural mutation
// requires exclusive access and is never internally synchronized; callers
// serialize it, and mutation requested while locked is queued.
type Storage interface {
	Spawn(components ...Component) (Entity, error)
	NewEntities(n int, components ...Component) ([]Entity, error)
	DestroyEntities(entities ...Entity) error

	AddComponent(e Entity, c Component) error
	AddComponentWithValue(e Entity, c Component, value any) error
	InsertRaw(e Entity, c Component, src unsafe.Pointer) error
	RemoveComponent(e Entity, c Component) error

	EnqueueNewEntities(amount int, components ...Component) error
	EnqueueDestroyEntities(entities ...Entity) error
	EnqueueAddComponent(e Entity, c Component) error
	EnqueueRemoveComponent(e Entity, c Component) error

	Alive(e Entity) bool
	Location(e Entity) (EntityLocation, bool)
	ArchetypeFor(e Entity) (Archetype, error)
	ComponentsOf(e Entity) ([]Component, error)
	NewOrExistingArchetype(components ...Component) (Archetype, error)

	SetParent(child, parent Entity, callback EntityDestroyCallback) error
	SetDestroyCallback(e Entity, callback EntityDestroyCallback) error

	Schema() Schema
	RowIndexFor(Component) uint32
	CurrentTick() uint32
	AdvanceTick() uint32
	Locked() bool
	Lock()
	Unlock()
	Close()
}

// Archetype is one immutable component signature and its columnar table.
type Archetype interface {
	ID() uint32
	Mask() mask.Mask
	Length() int
	Contains(Component) bool
	EntityAt(row int) Entity
	Components() iter.Seq[Component]
}

// Schema assigns per-storage mask bits to components.
type Schema interface {
	Register(Component) uint32
	Registered(Component) bool
	RowIndexFor(Component) uint32
	ComponentAtRow(row uint32) Component
	Len() int
}

type iCursor interface {
	Next() bool
	Items() iter.Seq2[Entity, FetchedItem]
}

type Cache[T any] interface {
	GetIndex(string) (int, bool)
	GetItem(int) *T
	GetItem32(uint32) *T
	Register(string, T) (int, error)
}
