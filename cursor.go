package quarry

import (
	"iter"
)

var _ iCursor = &Cursor{}

// Cursor iterates a query's matching archetypes row by row. The storage is
// locked for the cursor's lifetime so structural mutation requested during
// iteration is queued, and on dynamic plans each archetype's columns are
// borrowed while the cursor is inside it.
type Cursor struct {
	query   *Query
	storage *storage

	// Current iteration state
	currentArchetype *archetype
	storageIndex     int
	entityIndex      int
	remaining        int

	// Initialization state
	initialized     bool
	matchedStorages []*archetype
	borrowed        bool
	err             error
}

func newCursor(query *Query, storage *storage) *Cursor {
	return &Cursor{
		query:   query,
		storage: storage,
	}
}

// Next advances to the next matching row, skipping rows that fail the plan's
// change-detection terms. It returns false when iteration is complete or a
// borrow violation occurred; check Err afterwards.
func (c *Cursor) Next() bool {
	for {
		if c.entityIndex < c.remaining {
			c.entityIndex++
			if c.rowOK(c.entityIndex - 1) {
				return true
			}
			continue
		}
		if !c.advance() {
			return false
		}
	}
}

func (c *Cursor) rowOK(row int) bool {
	return rowMatches(c.currentArchetype, row, c.query.plan.terms, c.query.lastRun)
}

func (c *Cursor) advance() bool {
	if !c.initialized {
		c.initialize()
	}
	c.releaseCurrent()
	for c.storageIndex < len(c.matchedStorages) {
		c.currentArchetype = c.matchedStorages[c.storageIndex]
		c.remaining = c.currentArchetype.tbl.Len()
		c.entityIndex = 0
		c.storageIndex++

		if c.remaining == 0 {
			continue
		}
		if !c.borrowCurrent() {
			return false
		}
		return true
	}
	c.Reset()
	return false
}

func (c *Cursor) borrowCurrent() bool {
	if !c.query.plan.dynamic {
		return true
	}
	if err := c.query.acquireBorrows(c.currentArchetype); err != nil {
		c.err = err
		c.Reset()
		return false
	}
	c.borrowed = true
	return true
}

func (c *Cursor) releaseCurrent() {
	if c.borrowed {
		c.query.releaseBorrows(c.currentArchetype)
		c.borrowed = false
	}
}

func (c *Cursor) initialize() {
	if c.initialized {
		return
	}
	c.matchedStorages = make([]*archetype, 0)

	// Find all matching archetypes
	for i := range c.storage.archetypes.asSlice {
		arch := &c.storage.archetypes.asSlice[i]
		if matchArchetype(arch, c.query.plan.terms, c.query.plan.access) {
			c.matchedStorages = append(c.matchedStorages, arch)
		}
	}
	c.storage.Lock()
	c.initialized = true
}

// Reset ends iteration: borrows are released, the storage unlocks (draining
// any queued mutation), and the query's last-run tick moves forward.
func (c *Cursor) Reset() {
	c.releaseCurrent()
	c.storageIndex = 0
	c.entityIndex = 0
	c.remaining = 0
	c.matchedStorages = nil
	if c.initialized {
		c.initialized = false
		c.query.lastRun = c.storage.tick
		c.storage.Unlock()
	}
}

// Err reports a borrow violation that terminated iteration early.
func (c *Cursor) Err() error {
	return c.err
}

// Entity returns the handle at the cursor position.
func (c *Cursor) Entity() Entity {
	return c.currentArchetype.tbl.entities[c.entityIndex-1]
}

// Fetch resolves the full item at the cursor position.
func (c *Cursor) Fetch() (FetchedItem, error) {
	return c.query.fetchRow(c.currentArchetype, c.entityIndex-1)
}

// Items yields every matching (entity, item) pair.
func (c *Cursor) Items() iter.Seq2[Entity, FetchedItem] {
	return func(yield func(Entity, FetchedItem) bool) {
		for c.Next() {
			item, err := c.Fetch()
			if err != nil {
				c.err = err
				c.Reset()
				return
			}
			if !yield(c.Entity(), item) {
				c.Reset()
				return
			}
		}
	}
}

func (c *Cursor) CurrentArchetype() Archetype {
	return *c.currentArchetype
}

func (c *Cursor) RemainingInArchetype() int {
	return c.remaining - c.entityIndex
}

// TotalMatched counts rows in matching archetypes without filtering
// change-detection terms.
func (c *Cursor) TotalMatched() int {
	total := 0
	for i := range c.storage.archetypes.asSlice {
		arch := &c.storage.archetypes.asSlice[i]
		if matchArchetype(arch, c.query.plan.terms, c.query.plan.access) {
			total += arch.tbl.Len()
		}
	}
	return total
}
