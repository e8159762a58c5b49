package quarry

import (
	"reflect"
	"sync"
	"unsafe"
)

// ComponentID is a stable small integer assigned once per registered component
// type. It never changes for the lifetime of the process.
type ComponentID uint32

// DropFunc releases resources held by a single component value. The pointer is
// only valid for the duration of the call.
type DropFunc func(unsafe.Pointer)

// Component represents a data attribute/state that can be attached to entities.
// Components carry their memory layout so the storage engine can manage
// type-erased columns, and can be used to create queries for entities.
// Values live in raw byte columns the garbage collector does not scan, so
// component types should be plain data; anything they point at must be kept
// alive elsewhere.
type Component interface {
	ID() ComponentID
	Type() reflect.Type
	Size() uintptr
	Align() uintptr
	Drop() DropFunc
}

type componentType struct {
	id    ComponentID
	typ   reflect.Type
	size  uintptr
	align uintptr
	drop  DropFunc
	hooks [hookKindCount]Hook
}

func (c *componentType) ID() ComponentID    { return c.id }
func (c *componentType) Type() reflect.Type { return c.typ }
func (c *componentType) Size() uintptr      { return c.size }
func (c *componentType) Align() uintptr     { return c.align }
func (c *componentType) Drop() DropFunc     { return c.drop }

// The component registry is process-global: a component type resolves to the
// same ComponentID in every storage.
var componentRegistry = struct {
	mu     sync.Mutex
	byType map[reflect.Type]*componentType
	all    []*componentType
}{
	byType: make(map[reflect.Type]*componentType),
}

func registerComponentType(typ reflect.Type, drop DropFunc) *componentType {
	componentRegistry.mu.Lock()
	defer componentRegistry.mu.Unlock()

	if existing, ok := componentRegistry.byType[typ]; ok {
		return existing
	}
	ct := &componentType{
		id:    ComponentID(len(componentRegistry.all)),
		typ:   typ,
		size:  typ.Size(),
		align: uintptr(typ.Align()),
		drop:  drop,
	}
	componentRegistry.byType[typ] = ct
	componentRegistry.all = append(componentRegistry.all, ct)
	return ct
}

func componentByID(id ComponentID) *componentType {
	componentRegistry.mu.Lock()
	defer componentRegistry.mu.Unlock()
	if int(id) >= len(componentRegistry.all) {
		return nil
	}
	return componentRegistry.all[id]
}
