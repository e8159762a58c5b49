package quarry

import (
	"fmt"
	"runtime"
	"unsafe"
)

// HookKind selects one of the five lifecycle event points a component can
// observe.
type HookKind uint8

const (
	// HookOnAdd fires once, only when the component was not already present.
	HookOnAdd HookKind = iota
	// HookOnInsert fires on every insert, after HookOnAdd when both apply.
	HookOnInsert
	// HookOnReplace fires before an existing value is overwritten or removed,
	// while the old value is still readable through the context pointer.
	HookOnReplace
	// HookOnRemove fires when the component leaves the entity.
	HookOnRemove
	// HookOnDespawn fires once per remaining component when the owning entity
	// is destroyed.
	HookOnDespawn

	hookKindCount
)

func (k HookKind) String() string {
	switch k {
	case HookOnAdd:
		return "OnAdd"
	case HookOnInsert:
		return "OnInsert"
	case HookOnReplace:
		return "OnReplace"
	case HookOnRemove:
		return "OnRemove"
	case HookOnDespawn:
		return "OnDespawn"
	}
	return "Unknown"
}

// HookContext describes the mutation that triggered a hook. Value points at
// the component cell involved (the old value for OnReplace/OnRemove) and is
// only valid for the duration of the call.
type HookContext struct {
	Entity    Entity
	Component Component
	Value     unsafe.Pointer
	// Caller is the file:line of the public mutation entrypoint, captured only
	// when Config.SetCaptureHookCallers(true) is set.
	Caller string
	// RelationshipMode is set when the mutation was issued by relationship
	// bookkeeping (parent destroy callbacks), so hooks can suppress recursive
	// side effects.
	RelationshipMode bool
}

// Hook observes one lifecycle event for one component type. Structural
// mutation from inside a hook goes through the DeferredWorld, which queues the
// change instead of applying it mid-operation.
type Hook func(dw *DeferredWorld, ctx HookContext)

// RegisterHook installs h for the given event on c. Each component holds at
// most one hook per event: the boolean is false if one was already registered,
// in which case the existing hook is kept.
func RegisterHook(c Component, kind HookKind, h Hook) bool {
	ct := componentByID(c.ID())
	if ct == nil {
		return false
	}
	componentRegistry.mu.Lock()
	defer componentRegistry.mu.Unlock()
	if ct.hooks[kind] != nil {
		return false
	}
	ct.hooks[kind] = h
	return true
}

// MustRegisterHook is the convenience form of RegisterHook; it panics on
// duplicate registration.
func MustRegisterHook(c Component, kind HookKind, h Hook) {
	if !RegisterHook(c, kind, h) {
		panic(fmt.Sprintf("quarry: %s hook already registered for %v", kind, c.Type()))
	}
}

func hookFor(c Component, kind HookKind) Hook {
	ct := componentByID(c.ID())
	if ct == nil {
		return nil
	}
	componentRegistry.mu.Lock()
	defer componentRegistry.mu.Unlock()
	return ct.hooks[kind]
}

// DeferredWorld is the world view handed to hooks and relationship callbacks.
// Every structural call enqueues onto the storage's operation queue; nothing
// is applied until the triggering operation completes.
type DeferredWorld struct {
	sto              *storage
	relationshipMode bool
}

func (dw *DeferredWorld) NewEntities(amount int, components ...Component) error {
	return dw.sto.EnqueueNewEntities(amount, components...)
}

func (dw *DeferredWorld) DestroyEntities(entities ...Entity) error {
	return dw.sto.EnqueueDestroyEntities(entities...)
}

func (dw *DeferredWorld) AddComponent(e Entity, c Component) error {
	return dw.sto.EnqueueAddComponent(e, c)
}

func (dw *DeferredWorld) RemoveComponent(e Entity, c Component) error {
	return dw.sto.EnqueueRemoveComponent(e, c)
}

// Alive reports on the pre-mutation state; the triggering operation has not
// been fully applied while hooks run.
func (dw *DeferredWorld) Alive(e Entity) bool {
	return dw.sto.Alive(e)
}

// captureCaller resolves the mutation call site when configured. skip counts
// stack frames above the public entrypoint.
func captureCaller(skip int) string {
	if !Config.captureHookCallers {
		return ""
	}
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", file, line)
}
