package quarry

// fetchPlan is the resolved form of a declared access shape: the terms, their
// analyzed access pattern, and whether any term takes the dynamic path. Plans
// are cached per storage keyed by term signature.
type fetchPlan struct {
	terms   []Term
	access  termAccess
	dynamic bool
	sig     string
}

func hasDynamic(terms []Term) bool {
	for _, t := range terms {
		if t.Dynamic || hasDynamic(t.Sub) {
			return true
		}
	}
	return false
}

// Query is the opaque handle a system holds: a fetch plan bound to a storage,
// plus the tick the query last ran at (for Added/Changed terms).
type Query struct {
	plan    fetchPlan
	sto     *storage
	lastRun uint32
}

// InitTerm resolves a single declared access into a query.
func InitTerm(sto Storage, term Term) (*Query, error) {
	return InitTerms(sto, term)
}

// InitTerms walks the declared access shape, registers every component it
// names, and verifies the plan's Read/Write sets do not alias. Tuples compose
// by concatenation; Or and AnyOf nest a sub-list inside one composite term.
func InitTerms(sto Storage, terms ...Term) (*Query, error) {
	concrete := sto.(*storage)
	sig := signature(terms)

	if idx, found := concrete.plans.GetIndex(sig); found {
		return &Query{plan: *concrete.plans.GetItem(idx), sto: concrete}, nil
	}
	access, err := buildAccess(concrete.schema, terms)
	if err != nil {
		return nil, err
	}
	plan := fetchPlan{
		terms:   terms,
		access:  access,
		dynamic: hasDynamic(terms),
		sig:     sig,
	}
	// A full cache only disables reuse, never the query itself.
	_, _ = concrete.plans.Register(sig, plan)
	return &Query{plan: plan, sto: concrete}, nil
}

// Terms exposes the resolved term list (for schedule access declarations).
func (q *Query) Terms() []Term {
	return q.plan.terms
}

// ReadOnly derives the read-only half of the query: every Write becomes a
// Read, keeping the identical archetype filter. The derived plan's access is
// by construction a subset of the original's, so the two halves can be
// dispatched to different workers.
func (q *Query) ReadOnly() *Query {
	demoted := demoteTerms(q.plan.terms)
	ro, err := InitTerms(q.sto, demoted...)
	if err != nil {
		// Demotion removes writes and cannot introduce conflicts.
		panic(err)
	}
	if !ro.plan.access.subsetOf(q.plan.access) || !ro.plan.access.sameFilter(q.plan.access) {
		panic("read-only derivation violated the access subset contract")
	}
	ro.lastRun = q.lastRun
	return ro
}

func demoteTerms(terms []Term) []Term {
	out := make([]Term, len(terms))
	for i, t := range terms {
		out[i] = t
		if t.Op == OpWrite {
			out[i].Op = OpRead
		}
		if len(t.Sub) > 0 {
			out[i].Sub = demoteTerms(t.Sub)
		}
	}
	return out
}

// Get fetches the item for one entity. A stale or unknown handle reports
// EntityNotFoundError/StaleEntityError; a live entity whose archetype or
// change ticks fail the plan's terms reports TermMismatchError. The two are
// distinct so callers can tell them apart. On dynamic plans the item holds
// its column borrows until the caller invokes Release.
func (q *Query) Get(e Entity) (FetchedItem, error) {
	meta, err := q.sto.resolve(e)
	if err != nil {
		return FetchedItem{}, err
	}
	arch := q.sto.archetypeByID(meta.loc.Archetype)
	if !matchArchetype(arch, q.plan.terms, q.plan.access) {
		return FetchedItem{}, TermMismatchError{Entity: e}
	}
	if !rowMatches(arch, meta.loc.Row, q.plan.terms, q.lastRun) {
		return FetchedItem{}, TermMismatchError{Entity: e}
	}
	if q.plan.dynamic {
		// The borrow covers the caller's access window; Release on the
		// returned item hands it back.
		if err := q.acquireBorrows(arch); err != nil {
			return FetchedItem{}, err
		}
		item, err := q.fetchRow(arch, meta.loc.Row)
		if err != nil {
			q.releaseBorrows(arch)
			return FetchedItem{}, err
		}
		item.release = func() { q.releaseBorrows(arch) }
		return item, nil
	}
	return q.fetchRow(arch, meta.loc.Row)
}

// GetMany fetches items for each entity, preserving order. Failures are
// reported per slot rather than aborting the batch.
func (q *Query) GetMany(entities []Entity) []FetchResult {
	results := make([]FetchResult, len(entities))
	for i, e := range entities {
		item, err := q.Get(e)
		results[i] = FetchResult{Item: item, Err: err}
	}
	return results
}

// FetchResult is one slot of a GetMany batch.
type FetchResult struct {
	Item FetchedItem
	Err  error
}

// Cursor begins iteration over every matching archetype.
func (q *Query) Cursor() *Cursor {
	return newCursor(q, q.sto)
}

func (q *Query) fetchRow(arch *archetype, row int) (FetchedItem, error) {
	item := FetchedItem{
		Entity: arch.tbl.entities[row],
		Terms:  make([]FetchedTerm, len(q.plan.terms)),
		tick:   q.sto.tick,
	}
	for i, t := range q.plan.terms {
		ft, err := fetchTerm(arch, row, t, q.lastRun)
		if err != nil {
			return FetchedItem{}, err
		}
		item.Terms[i] = ft
	}
	return item, nil
}

func fetchTerm(arch *archetype, row int, t Term, lastRun uint32) (FetchedTerm, error) {
	switch t.Op {
	case OpEntity, OpWith, OpWithout:
		return FetchedTerm{Matched: true}, nil
	case OpOr:
		// Or consumes its sub-terms without exposing their data.
		return FetchedTerm{Matched: rowTermMatches(arch, row, t, lastRun)}, nil
	case OpAnyOf:
		// One sub-result per declared branch, unmatched branches left empty.
		ft := FetchedTerm{Sub: make([]FetchedTerm, len(t.Sub))}
		for i, sub := range t.Sub {
			if !termMatches(arch, sub) {
				continue
			}
			resolved, err := fetchTerm(arch, row, sub, lastRun)
			if err != nil {
				return FetchedTerm{}, err
			}
			ft.Sub[i] = resolved
			ft.Matched = ft.Matched || resolved.Matched
		}
		return ft, nil
	}
	slot, present := arch.tbl.slot(t.Comp.ID())
	if !present {
		if t.Op == OpOptional {
			return FetchedTerm{}, nil
		}
		return FetchedTerm{}, TermMismatchError{Entity: arch.tbl.entities[row]}
	}
	col := &arch.tbl.cols[slot]
	return FetchedTerm{
		Ptr:        arch.tbl.ptrAt(slot, row),
		Added:      col.added[row],
		Changed:    col.changed[row],
		changedRef: &col.changed[row],
		Matched:    true,
	}, nil
}

func (q *Query) acquireBorrows(arch *archetype) error {
	return acquireTermBorrows(arch, q.plan.terms)
}

func (q *Query) releaseBorrows(arch *archetype) {
	releaseTermBorrows(arch, q.plan.terms)
}

func acquireTermBorrows(arch *archetype, terms []Term) error {
	for i, t := range terms {
		if len(t.Sub) > 0 {
			if err := acquireTermBorrows(arch, t.Sub); err != nil {
				releaseTermBorrows(arch, terms[:i])
				return err
			}
			continue
		}
		if !t.Dynamic || t.Comp == nil {
			continue
		}
		slot, ok := arch.tbl.slot(t.Comp.ID())
		if !ok {
			continue
		}
		var err error
		if t.Op == OpWrite {
			err = arch.tbl.acquireUnique(slot)
		} else {
			err = arch.tbl.acquireShared(slot)
		}
		if err != nil {
			releaseTermBorrows(arch, terms[:i])
			return err
		}
	}
	return nil
}

func releaseTermBorrows(arch *archetype, terms []Term) {
	for _, t := range terms {
		if len(t.Sub) > 0 {
			releaseTermBorrows(arch, t.Sub)
			continue
		}
		if !t.Dynamic || t.Comp == nil {
			continue
		}
		slot, ok := arch.tbl.slot(t.Comp.ID())
		if !ok {
			continue
		}
		if t.Op == OpWrite {
			arch.tbl.releaseUnique(slot)
		} else {
			arch.tbl.releaseShared(slot)
		}
	}
}
