package quarry

// Entity is an opaque generational handle. The index is dense and reused after
// despawn; the generation is bumped on despawn so stale handles stop resolving.
type Entity struct {
	idx uint32
	gen uint32
}

func (e Entity) Index() uint32      { return e.idx }
func (e Entity) Generation() uint32 { return e.gen }

// IsZero reports whether e is the zero handle, which never refers to a live
// entity (generations start at 1).
func (e Entity) IsZero() bool { return e.gen == 0 }

// EntityLocation is where an entity's row currently lives. It is patched on
// every structural change affecting the entity.
type EntityLocation struct {
	Archetype uint32
	Row       int
}

// entityMeta is one slot of the dense entity index.
type entityMeta struct {
	loc           EntityLocation
	gen           uint32
	alive         bool
	relationships relationships
}

// EntityDestroyCallback runs when a related entity is despawned.
type EntityDestroyCallback func(dw *DeferredWorld, destroyed Entity)

type relationships struct {
	parent    Entity
	onDestroy EntityDestroyCallback
}
