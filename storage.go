package quarry

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/TheBitDrifter/mask"
	iter_util "github.com/TheBitDrifter/util/iter"
)

var _ Storage = &storage{}

type storage struct {
	locks      int
	mutating   bool
	draining   bool
	schema     Schema
	archetypes *archetypes
	opQueue    opQueue
	entities   []entityMeta
	freeIDs    []uint32
	tick       uint32
	plans      *SimpleCache[fetchPlan]
}

type archetypes struct {
	nextID           archetypeID
	asSlice          []archetype
	idsGroupedByMask map[mask.Mask]archetypeID
}

func newStorage(schema Schema) Storage {
	archetypes := &archetypes{
		nextID:           1,
		idsGroupedByMask: make(map[mask.Mask]archetypeID),
	}
	storage := &storage{
		archetypes: archetypes,
		schema:     schema,
		opQueue:    newOpQueue(),
		tick:       1,
		plans:      FactoryNewCache[fetchPlan](1024).(*SimpleCache[fetchPlan]),
	}
	return storage
}

// CurrentTick is the storage's change-detection counter.
func (s *storage) CurrentTick() uint32 {
	return s.tick
}

// AdvanceTick moves the change-detection counter forward. The external
// executor calls this once per run.
func (s *storage) AdvanceTick() uint32 {
	s.tick++
	return s.tick
}

func (s *storage) RowIndexFor(c Component) uint32 {
	return s.schema.RowIndexFor(c)
}

func (s *storage) Schema() Schema {
	return s.schema
}

// NewOrExistingArchetype returns the archetype for the signature, creating it
// lazily on first encounter. Archetypes are never merged or split afterwards.
func (s *storage) NewOrExistingArchetype(components ...Component) (Archetype, error) {
	arch, err := s.archetypeFor(components)
	if err != nil {
		return nil, err
	}
	return arch, nil
}

func (s *storage) archetypeFor(components []Component) (*archetype, error) {
	if len(components) == 0 {
		return nil, EmptyArchetypeError{}
	}
	var signature mask.Mask
	for _, component := range components {
		s.schema.Register(component)
		signature.Mark(s.schema.RowIndexFor(component))
	}
	if id, found := s.archetypes.idsGroupedByMask[signature]; found {
		return &s.archetypes.asSlice[id-1], nil
	}
	created, err := newArchetype(s.schema, s.archetypes.nextID, components...)
	if err != nil {
		return nil, err
	}
	s.archetypes.asSlice = append(s.archetypes.asSlice, created)
	s.archetypes.idsGroupedByMask[signature] = s.archetypes.nextID
	s.archetypes.nextID++
	return &s.archetypes.asSlice[len(s.archetypes.asSlice)-1], nil
}

func (s *storage) archetypeByID(id uint32) *archetype {
	return &s.archetypes.asSlice[id-1]
}

func (s *storage) NewEntities(n int, components ...Component) ([]Entity, error) {
	if s.locks > 0 {
		return nil, LockedStorageError{}
	}
	arch, err := s.archetypeFor(components)
	if err != nil {
		return nil, err
	}
	caller := captureCaller(2)
	s.beginMutation()
	defer s.endMutation()

	entities := make([]Entity, n)
	for i := range entities {
		e := s.allocEntity()
		row := arch.tbl.allocate(e, s.tick)
		meta := &s.entities[e.idx]
		meta.loc = EntityLocation{Archetype: uint32(arch.id), Row: row}
		meta.alive = true
		entities[i] = e

		for slot := range arch.tbl.cols {
			c := arch.tbl.cols[slot].comp
			ptr := arch.tbl.ptrAt(slot, row)
			s.fireHook(HookOnAdd, c, e, ptr, caller, false)
			s.fireHook(HookOnInsert, c, e, ptr, caller, false)
		}
	}
	return entities, nil
}

// Spawn creates a single entity with the given components.
func (s *storage) Spawn(components ...Component) (Entity, error) {
	entities, err := s.NewEntities(1, components...)
	if err != nil {
		return Entity{}, err
	}
	return entities[0], nil
}

func (s *storage) allocEntity() Entity {
	if n := len(s.freeIDs); n > 0 {
		idx := s.freeIDs[n-1]
		s.freeIDs = s.freeIDs[:n-1]
		return Entity{idx: idx, gen: s.entities[idx].gen}
	}
	idx := uint32(len(s.entities))
	s.entities = append(s.entities, entityMeta{gen: 1})
	return Entity{idx: idx, gen: 1}
}

func (s *storage) resolve(e Entity) (*entityMeta, error) {
	if int(e.idx) >= len(s.entities) {
		return nil, EntityNotFoundError{Entity: e}
	}
	meta := &s.entities[e.idx]
	if !meta.alive || meta.gen != e.gen {
		return nil, StaleEntityError{Entity: e}
	}
	return meta, nil
}

func (s *storage) Alive(e Entity) bool {
	_, err := s.resolve(e)
	return err == nil
}

func (s *storage) Location(e Entity) (EntityLocation, bool) {
	meta, err := s.resolve(e)
	if err != nil {
		return EntityLocation{}, false
	}
	return meta.loc, true
}

func (s *storage) ArchetypeFor(e Entity) (Archetype, error) {
	meta, err := s.resolve(e)
	if err != nil {
		return nil, err
	}
	return *s.archetypeByID(meta.loc.Archetype), nil
}

func (s *storage) ComponentsOf(e Entity) ([]Component, error) {
	meta, err := s.resolve(e)
	if err != nil {
		return nil, err
	}
	return iter_util.Collect(s.archetypeByID(meta.loc.Archetype).Components()), nil
}

func (s *storage) DestroyEntities(entities ...Entity) error {
	if s.locks > 0 {
		return LockedStorageError{}
	}
	caller := captureCaller(2)
	s.beginMutation()
	defer s.endMutation()

	for _, e := range entities {
		if err := s.despawn(e, caller, false); err != nil {
			continue // stale handles are a no-op, matching queued destroys
		}
	}
	return nil
}

func (s *storage) despawn(e Entity, caller string, relationshipMode bool) error {
	meta, err := s.resolve(e)
	if err != nil {
		return err
	}
	arch := s.archetypeByID(meta.loc.Archetype)
	row := meta.loc.Row

	for slot := range arch.tbl.cols {
		c := arch.tbl.cols[slot].comp
		ptr := arch.tbl.ptrAt(slot, row)
		s.fireHook(HookOnReplace, c, e, ptr, caller, relationshipMode)
		s.fireHook(HookOnRemove, c, e, ptr, caller, relationshipMode)
		s.fireHook(HookOnDespawn, c, e, ptr, caller, relationshipMode)
	}

	onDestroy := meta.relationships.onDestroy

	moved, didMove := arch.tbl.remove(row)
	if didMove {
		s.entities[moved.idx].loc.Row = row
	}
	meta.alive = false
	meta.gen++
	meta.relationships = relationships{}
	s.freeIDs = append(s.freeIDs, e.idx)

	if onDestroy != nil {
		dw := &DeferredWorld{sto: s, relationshipMode: true}
		onDestroy(dw, e)
	}
	return nil
}

func (s *storage) AddComponent(e Entity, c Component) error {
	return s.addComponent(e, c, nil, captureCaller(2))
}

// AddComponentWithValue adds c initialized to the given value, which must be
// of the component's concrete type.
func (s *storage) AddComponentWithValue(e Entity, c Component, value any) error {
	src, err := boxValue(c, value)
	if err != nil {
		return err
	}
	return s.addComponent(e, c, src, captureCaller(2))
}

func (s *storage) addComponent(e Entity, c Component, src unsafe.Pointer, caller string) error {
	if s.locks > 0 {
		return LockedStorageError{}
	}
	meta, err := s.resolve(e)
	if err != nil {
		return err
	}
	srcArch := s.archetypeByID(meta.loc.Archetype)
	if srcArch.Contains(c) {
		return ComponentExistsError{Component: c}
	}
	s.beginMutation()
	defer s.endMutation()

	destComps := append(iter_util.Collect(srcArch.Components()), c)
	dstArch, err := s.archetypeFor(destComps)
	if err != nil {
		return fmt.Errorf("failed to get/create archetype: %w", err)
	}
	// archetypeFor can grow the slice; re-resolve the source.
	srcArch = s.archetypeByID(meta.loc.Archetype)

	dstRow := s.transferRow(e, meta, srcArch, dstArch)
	slot, _ := dstArch.tbl.slot(c.ID())
	if src != nil {
		dstArch.tbl.writeRaw(slot, dstRow, src)
	}
	ptr := dstArch.tbl.ptrAt(slot, dstRow)
	s.fireHook(HookOnAdd, c, e, ptr, caller, false)
	s.fireHook(HookOnInsert, c, e, ptr, caller, false)
	return nil
}

// InsertRaw inserts or replaces c's value for the entity from the raw source
// pointer. When the component is already present this fires OnReplace (with
// the old value) before overwriting, then OnInsert; when absent it behaves
// like an add.
func (s *storage) InsertRaw(e Entity, c Component, src unsafe.Pointer) error {
	if s.locks > 0 {
		return LockedStorageError{}
	}
	caller := captureCaller(2)
	meta, err := s.resolve(e)
	if err != nil {
		return err
	}
	arch := s.archetypeByID(meta.loc.Archetype)
	slot, present := arch.tbl.slot(c.ID())
	if !present {
		return s.addComponent(e, c, src, caller)
	}
	s.beginMutation()
	defer s.endMutation()

	row := meta.loc.Row
	old := arch.tbl.ptrAt(slot, row)
	s.fireHook(HookOnReplace, c, e, old, caller, false)
	if drop := c.Drop(); drop != nil {
		drop(old)
	}
	arch.tbl.writeRaw(slot, row, src)
	arch.tbl.markChanged(slot, row, s.tick)
	s.fireHook(HookOnInsert, c, e, arch.tbl.ptrAt(slot, row), caller, false)
	return nil
}

func (s *storage) RemoveComponent(e Entity, c Component) error {
	if s.locks > 0 {
		return LockedStorageError{}
	}
	caller := captureCaller(2)
	meta, err := s.resolve(e)
	if err != nil {
		return err
	}
	srcArch := s.archetypeByID(meta.loc.Archetype)
	slot, present := srcArch.tbl.slot(c.ID())
	if !present {
		return ComponentNotFoundError{Component: c}
	}
	if len(srcArch.tbl.comps) == 1 {
		// Entities always carry at least one component; despawn instead.
		return fmt.Errorf("cannot remove last component %v: %w", c.Type(), EmptyArchetypeError{})
	}
	s.beginMutation()
	defer s.endMutation()

	row := meta.loc.Row
	old := srcArch.tbl.ptrAt(slot, row)
	s.fireHook(HookOnReplace, c, e, old, caller, false)
	s.fireHook(HookOnRemove, c, e, old, caller, false)

	destComps := make([]Component, 0, len(srcArch.tbl.comps)-1)
	for _, comp := range srcArch.tbl.comps {
		if comp.ID() != c.ID() {
			destComps = append(destComps, comp)
		}
	}
	dstArch, err := s.archetypeFor(destComps)
	if err != nil {
		return fmt.Errorf("failed to get/create archetype: %w", err)
	}
	srcArch = s.archetypeByID(meta.loc.Archetype)
	s.transferRow(e, meta, srcArch, dstArch)
	return nil
}

// transferRow transplants the entity's row into dstArch via the moveTo sink:
// columns present in the destination are copied byte-for-byte, the rest are
// dropped. No value is ever double-freed or read uninitialized. Returns the
// destination row.
func (s *storage) transferRow(e Entity, meta *entityMeta, srcArch, dstArch *archetype) int {
	srcRow := meta.loc.Row
	dstRow := dstArch.tbl.allocate(e, s.tick)

	// Carry change ticks for surviving columns so Added/Changed terms see the
	// original times, not the move.
	for srcSlot := range srcArch.tbl.cols {
		sc := &srcArch.tbl.cols[srcSlot]
		if dstSlot, ok := dstArch.tbl.slot(sc.comp.ID()); ok {
			dc := &dstArch.tbl.cols[dstSlot]
			dc.added[dstRow] = sc.added[srcRow]
			dc.changed[dstRow] = sc.changed[srcRow]
		}
	}

	moved, didMove := srcArch.tbl.moveTo(srcRow, func(c Component, ptr unsafe.Pointer) {
		if dstSlot, ok := dstArch.tbl.slot(c.ID()); ok {
			dstArch.tbl.writeRaw(dstSlot, dstRow, ptr)
		} else if drop := c.Drop(); drop != nil {
			drop(ptr)
		}
	})
	if didMove {
		s.entities[moved.idx].loc.Row = srcRow
	}
	meta.loc = EntityLocation{Archetype: uint32(dstArch.id), Row: dstRow}
	return dstRow
}

func (s *storage) SetParent(child, parent Entity, callback EntityDestroyCallback) error {
	childMeta, err := s.resolve(child)
	if err != nil {
		return err
	}
	if _, err := s.resolve(parent); err != nil {
		return err
	}
	if !childMeta.relationships.parent.IsZero() {
		return EntityRelationError{child: child, parent: childMeta.relationships.parent}
	}
	childMeta.relationships.parent = parent
	return s.SetDestroyCallback(parent, callback)
}

func (s *storage) SetDestroyCallback(e Entity, callback EntityDestroyCallback) error {
	meta, err := s.resolve(e)
	if err != nil {
		return err
	}
	meta.relationships.onDestroy = callback
	return nil
}

func (s *storage) Locked() bool {
	return s.locks > 0
}

// Lock defers structural mutation until the matching Unlock. Locks nest, so
// overlapping cursors each hold their own; the queue drains when the last
// one releases.
func (s *storage) Lock() {
	s.locks++
}

func (s *storage) Unlock() {
	if s.locks > 0 {
		s.locks--
	}
	if s.locks > 0 {
		return
	}
	err := s.processOperationQueue()
	if err != nil {
		panic(err)
	}
}

func (s *storage) beginMutation() {
	s.mutating = true
}

func (s *storage) endMutation() {
	s.mutating = false
	if s.locks == 0 && !s.draining {
		if err := s.processOperationQueue(); err != nil {
			panic(err)
		}
	}
}

func (s *storage) deferring() bool {
	return s.locks > 0 || s.mutating
}

func (s *storage) EnqueueNewEntities(amount int, components ...Component) error {
	if !s.deferring() {
		_, err := s.NewEntities(amount, components...)
		if err != nil {
			return fmt.Errorf("failed to create entities directly: %w", err)
		}
		return nil
	}
	s.opQueue.createOps = append(s.opQueue.createOps, operation{
		typ:    opCreate,
		amount: amount,
		comps:  components,
	})
	return nil
}

func (s *storage) EnqueueDestroyEntities(entities ...Entity) error {
	if !s.deferring() {
		return s.DestroyEntities(entities...)
	}
	s.opQueue.EnqueueDestroy(entities)
	return nil
}

func (s *storage) EnqueueAddComponent(e Entity, c Component) error {
	if !s.deferring() {
		return s.AddComponent(e, c)
	}
	s.opQueue.EnqueueComponentOp(opAddComponent, e, c)
	return nil
}

func (s *storage) EnqueueRemoveComponent(e Entity, c Component) error {
	if !s.deferring() {
		return s.RemoveComponent(e, c)
	}
	s.opQueue.EnqueueComponentOp(opRemoveComponent, e, c)
	return nil
}

// Close drops every remaining row in every archetype via the stored drop
// descriptors. The storage is unusable afterwards.
func (s *storage) Close() {
	for i := range s.archetypes.asSlice {
		s.archetypes.asSlice[i].tbl.drain()
	}
	for i := range s.entities {
		s.entities[i].alive = false
		s.entities[i].gen++
	}
}

func (s *storage) fireHook(kind HookKind, c Component, e Entity, value unsafe.Pointer, caller string, relationshipMode bool) {
	h := hookFor(c, kind)
	if h == nil {
		return
	}
	dw := &DeferredWorld{sto: s, relationshipMode: relationshipMode}
	h(dw, HookContext{
		Entity:           e,
		Component:        c,
		Value:            value,
		Caller:           caller,
		RelationshipMode: relationshipMode,
	})
}

// boxValue copies an any into freshly allocated memory of the component's
// concrete type, returning a pointer the storage can read raw bytes from.
func boxValue(c Component, value any) (unsafe.Pointer, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, fmt.Errorf("nil value does not match component type %v", c.Type())
	}
	if rv.Type() != c.Type() {
		return nil, fmt.Errorf("value type %v does not match component type %v", rv.Type(), c.Type())
	}
	boxed := reflect.New(c.Type())
	boxed.Elem().Set(rv)
	return boxed.UnsafePointer(), nil
}
