package quarry

import (
	"fmt"
)

type operation struct {
	typ      operationType
	amount   int
	comps    []Component
	entities []Entity
}

type operationType int

const (
	opCreate operationType = iota
	opDestroy
	opAddComponent
	opRemoveComponent
)

type opKey struct {
	entity Entity
	comp   ComponentID
}

// opQueue buffers structural mutation requested while the storage is locked or
// mid-operation (hooks, iteration). Drained creates-first, then component
// ops, then destroys.
type opQueue struct {
	createOps      []operation
	componentOps   []operation
	destroyOps     []operation
	pendingDestroy map[Entity]struct{}
	pendingMods    map[opKey]int
}

func newOpQueue() opQueue {
	return opQueue{
		pendingDestroy: make(map[Entity]struct{}),
		pendingMods:    make(map[opKey]int),
	}
}

func (s *storage) processOperationQueue() error {
	if len(s.opQueue.createOps) == 0 &&
		len(s.opQueue.componentOps) == 0 &&
		len(s.opQueue.destroyOps) == 0 {
		return nil
	}
	s.draining = true
	defer func() { s.draining = false }()

	// Hooks fired by drained operations may enqueue again; keep draining
	// until the queue is quiescent.
	for len(s.opQueue.createOps) > 0 ||
		len(s.opQueue.componentOps) > 0 ||
		len(s.opQueue.destroyOps) > 0 {
		if err := s.drainOnce(); err != nil {
			return err
		}
	}
	return nil
}

func (s *storage) drainOnce() error {
	// Swap the queues out first: hooks fired below may enqueue fresh
	// operations, which belong to the next drain pass.
	createOps := s.opQueue.createOps
	componentOps := s.opQueue.componentOps
	destroyOps := s.opQueue.destroyOps
	s.opQueue.createOps = nil
	s.opQueue.componentOps = nil
	s.opQueue.destroyOps = nil
	clear(s.opQueue.pendingDestroy)
	clear(s.opQueue.pendingMods)

	// Process creates first
	for _, op := range createOps {
		if _, err := s.NewEntities(op.amount, op.comps...); err != nil {
			return fmt.Errorf("failed to process queued entity creation: %w", err)
		}
	}

	// Process component modifications
	for _, op := range componentOps {
		if op.typ == -1 {
			continue // superseded by a destroy
		}
		entity := op.entities[0]
		if !s.Alive(entity) {
			continue // recycled while queued
		}
		switch op.typ {
		case opAddComponent:
			if err := s.AddComponent(entity, op.comps[0]); err != nil {
				return fmt.Errorf("failed to add queued component: %w", err)
			}
		case opRemoveComponent:
			if err := s.RemoveComponent(entity, op.comps[0]); err != nil {
				return fmt.Errorf("failed to remove queued component: %w", err)
			}
		}
	}

	// Process destroys last
	for _, op := range destroyOps {
		if len(op.entities) > 0 {
			if err := s.DestroyEntities(op.entities...); err != nil {
				return fmt.Errorf("failed to destroy queued entities: %w", err)
			}
		}
	}
	return nil
}

func (q *opQueue) EnqueueDestroy(entities []Entity) {
	// Filter out already queued entities
	var newEntities []Entity
	for _, entity := range entities {
		if _, exists := q.pendingDestroy[entity]; !exists {
			newEntities = append(newEntities, entity)
			q.pendingDestroy[entity] = struct{}{}

			// Cancel any pending component operations for this entity
			for key, idx := range q.pendingMods {
				if key.entity == entity {
					q.componentOps[idx].typ = -1
					delete(q.pendingMods, key)
				}
			}
		}
	}

	if len(newEntities) > 0 {
		q.destroyOps = append(q.destroyOps, operation{
			typ:      opDestroy,
			entities: newEntities,
		})
	}
}

func (q *opQueue) EnqueueComponentOp(typ operationType, entity Entity, comp Component) {
	// If entity is pending destroy, ignore component operations
	if _, isDestroyed := q.pendingDestroy[entity]; isDestroyed {
		return
	}

	// An add and remove of the same component coalesce to the latest request;
	// operations on distinct components are independent.
	key := opKey{entity: entity, comp: comp.ID()}
	if existingIdx, exists := q.pendingMods[key]; exists {
		q.componentOps[existingIdx].typ = typ
		return
	}

	// Add new operation
	q.pendingMods[key] = len(q.componentOps)
	q.componentOps = append(q.componentOps, operation{
		typ:      typ,
		entities: []Entity{entity},
		comps:    []Component{comp},
	})
}
