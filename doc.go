/*
Package quarry provides the storage and scheduling kernel for an archetype-based
Entity-Component-System (ECS).

Quarry keeps entities with identical component signatures together in columnar
archetypes for cache-friendly iteration. On top of the storage engine it offers
a term-based query layer with static and runtime aliasing checks, per-component
lifecycle hooks, and a schedule dependency graph that turns declared system
ordering into a validated run order.

Core Concepts:

  - Entity: A generational handle that represents a game object.
  - Component: A data container that defines entity attributes.
  - Archetype: A columnar table for all entities sharing one component signature.
  - Term: One atomic declared access (component + operator + mode) used to build queries.
  - Schedule: A validated DAG over systems yielding an executable order.

Basic Usage:

	// Create storage with schema
	schema := quarry.Factory.NewSchema()
	storage := quarry.Factory.NewStorage(schema)

	// Define components
	position := quarry.FactoryNewComponent[Position]()
	velocity := quarry.FactoryNewComponent[Velocity]()

	// Create entities
	entities, _ := storage.NewEntities(100, position, velocity)

	// Query entities and process them
	query, _ := quarry.InitTerms(storage, position.Read(), velocity.Mut())
	cursor := query.Cursor()

	for cursor.Next() {
		pos := position.GetFromCursor(cursor)
		vel := velocity.GetFromCursor(cursor)
		pos.X += vel.X
		pos.Y += vel.Y
	}

Structural mutation requested while storage is locked (for example from a
lifecycle hook or during iteration) is queued and applied when the lock drops,
so archetype moves never happen mid-traversal.

Quarry is the underlying kernel for the Bappa Framework but also works as a
standalone library.
*/
package quarry
