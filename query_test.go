package quarry

import (
	"errors"
	"testing"
)

func drainCount(t *testing.T, q *Query) int {
	t.Helper()
	n := 0
	cur := q.Cursor()
	for cur.Next() {
		n++
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	return n
}

// TestQueryFiltering tests archetype-level term matching over a small world.
func TestQueryFiltering(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()

	storage := Factory.NewStorage(Factory.NewSchema())
	mustSpawn := func(n int, comps ...Component) {
		if _, err := storage.NewEntities(n, comps...); err != nil {
			t.Fatalf("Failed to spawn: %v", err)
		}
	}
	mustSpawn(2, posComp)
	mustSpawn(3, posComp, velComp)
	mustSpawn(1, posComp, healthComp)
	mustSpawn(1, velComp, healthComp)

	tests := []struct {
		name  string
		terms []Term
		want  int
	}{
		{
			name:  "Single read",
			terms: []Term{posComp.Read()},
			want:  6,
		},
		{
			name:  "Read another component",
			terms: []Term{velComp.Read()},
			want:  4,
		},
		{
			name:  "Read with filter",
			terms: []Term{posComp.Read(), velComp.With()},
			want:  3,
		},
		{
			name:  "Read with exclusion",
			terms: []Term{posComp.Read(), velComp.Without()},
			want:  3,
		},
		{
			name:  "Or over filters",
			terms: []Term{posComp.Read(), Or(velComp.With(), healthComp.With())},
			want:  4,
		},
		{
			name:  "AnyOf reads",
			terms: []Term{AnyOf(velComp.Read(), healthComp.Read())},
			want:  5,
		},
		{
			name:  "Entity with read",
			terms: []Term{EntityTerm(), healthComp.Read()},
			want:  2,
		},
		{
			name:  "Filters only",
			terms: []Term{posComp.With(), velComp.With(), healthComp.Without()},
			want:  3,
		},
		{
			name:  "Optional does not filter",
			terms: []Term{posComp.Read(), velComp.Optional()},
			want:  6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := InitTerms(storage, tt.terms...)
			if err != nil {
				t.Fatalf("Failed to build query: %v", err)
			}
			if got := drainCount(t, q); got != tt.want {
				t.Errorf("Matched %d entities, expected %d", got, tt.want)
			}
		})
	}
}

// TestConflictingAccess verifies aliasing Read/Write declarations are
// rejected at query construction.
func TestConflictingAccess(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	storage := Factory.NewStorage(Factory.NewSchema())

	tests := []struct {
		name  string
		terms []Term
	}{
		{"Read then write", []Term{posComp.Read(), posComp.Mut()}},
		{"Write then read", []Term{posComp.Mut(), posComp.Read()}},
		{"Double write", []Term{posComp.Mut(), posComp.Mut()}},
		{"Write inside composite", []Term{posComp.Mut(), AnyOf(posComp.Read(), velComp.Read())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InitTerms(storage, tt.terms...)
			if !errors.As(err, &ConflictingAccessError{}) {
				t.Errorf("InitTerms = %v, expected ConflictingAccessError", err)
			}
		})
	}
}

// TestCompositeArity verifies one-armed composites are rejected.
func TestCompositeArity(t *testing.T) {
	velComp := FactoryNewComponent[Velocity]()
	storage := Factory.NewStorage(Factory.NewSchema())

	if _, err := InitTerms(storage, Or(velComp.With())); !errors.As(err, &TermArityError{}) {
		t.Errorf("Single-arm Or: %v, expected TermArityError", err)
	}
	if _, err := InitTerms(storage, AnyOf()); !errors.As(err, &TermArityError{}) {
		t.Errorf("Empty AnyOf: %v, expected TermArityError", err)
	}
}

// TestGetDistinguishesErrors verifies point lookups separate "entity gone"
// from "entity does not match".
func TestGetDistinguishesErrors(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	storage := Factory.NewStorage(Factory.NewSchema())

	matching, err := storage.Spawn(posComp, velComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	plain, err := storage.Spawn(posComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	gone, err := storage.Spawn(posComp, velComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	if err := storage.DestroyEntities(gone); err != nil {
		t.Fatalf("Failed to destroy: %v", err)
	}

	q, err := InitTerms(storage, posComp.Read(), velComp.With())
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}

	if _, err := q.Get(matching); err != nil {
		t.Errorf("Get on matching entity: %v", err)
	}
	if _, err := q.Get(plain); !errors.As(err, &TermMismatchError{}) {
		t.Errorf("Get on mismatched entity: %v, expected TermMismatchError", err)
	}
	if _, err := q.Get(gone); !errors.As(err, &StaleEntityError{}) {
		t.Errorf("Get on destroyed entity: %v, expected StaleEntityError", err)
	}

	results := q.GetMany([]Entity{matching, plain, gone})
	if results[0].Err != nil {
		t.Errorf("GetMany slot 0: %v", results[0].Err)
	}
	if !errors.As(results[1].Err, &TermMismatchError{}) {
		t.Errorf("GetMany slot 1: %v, expected TermMismatchError", results[1].Err)
	}
	if !errors.As(results[2].Err, &StaleEntityError{}) {
		t.Errorf("GetMany slot 2: %v, expected StaleEntityError", results[2].Err)
	}
}

// TestFetchedItemAccess tests typed extraction from fetched rows.
func TestFetchedItemAccess(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	storage := Factory.NewStorage(Factory.NewSchema())

	e, err := storage.Spawn(posComp, velComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	if err := posComp.Insert(storage, e, Position{X: 1, Y: 2}); err != nil {
		t.Fatalf("Failed to set position: %v", err)
	}

	q, err := InitTerms(storage, posComp.Read(), velComp.Mut(), velComp.With())
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}
	item, err := q.Get(e)
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if item.Entity != e {
		t.Error("Fetched item carries the wrong entity")
	}
	pos := TermRef[Position](item, 0)
	if pos == nil || pos.X != 1 || pos.Y != 2 {
		t.Errorf("TermRef = %+v, expected {1 2}", pos)
	}
	vel := TermMut[Velocity](item, 1)
	vel.Get().X = 9
	got, _ := velComp.GetFromEntity(storage, e)
	if got.X != 9 {
		t.Errorf("Write through TermMut not visible: %+v", got)
	}
	if !TermHas(item, 2) {
		t.Error("Filter term not reported as matched")
	}
}

// TestAnyOfFetch verifies AnyOf exposes per-branch results.
func TestAnyOfFetch(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()
	storage := Factory.NewStorage(Factory.NewSchema())

	withVel, err := storage.Spawn(posComp, velComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	withHealth, err := storage.Spawn(posComp, healthComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	if _, err := storage.Spawn(posComp); err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	q, err := InitTerms(storage, posComp.Read(), AnyOf(velComp.Read(), healthComp.Read()))
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}

	seen := map[Entity][2]bool{}
	cur := q.Cursor()
	for e, item := range cur.Items() {
		_, hasVel := TermSubOption[Velocity](item, 1, 0)
		_, hasHealth := TermSubOption[Health](item, 1, 1)
		seen[e] = [2]bool{hasVel, hasHealth}
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("Matched %d entities, expected 2", len(seen))
	}
	if got := seen[withVel]; !got[0] || got[1] {
		t.Errorf("Velocity entity branches = %v, expected [true false]", got)
	}
	if got := seen[withHealth]; got[0] || !got[1] {
		t.Errorf("Health entity branches = %v, expected [false true]", got)
	}
}

// TestReadOnlyDerivation verifies ReadOnly demotes writes while keeping the
// archetype filter.
func TestReadOnlyDerivation(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	storage := Factory.NewStorage(Factory.NewSchema())

	e, err := storage.Spawn(posComp, velComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	q, err := InitTerms(storage, posComp.Mut(), velComp.Read())
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}
	ro := q.ReadOnly()
	for _, term := range ro.Terms() {
		if term.Op == OpWrite {
			t.Errorf("ReadOnly query retains write on %v", term.Comp.Type())
		}
	}
	if _, err := ro.Get(e); err != nil {
		t.Errorf("ReadOnly fetch failed: %v", err)
	}
	if got := drainCount(t, ro); got != 1 {
		t.Errorf("ReadOnly matched %d entities, expected 1", got)
	}
}

// TestChangeDetection tests Added/Changed terms against the storage tick.
func TestChangeDetection(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	storage := Factory.NewStorage(Factory.NewSchema())

	if _, err := storage.Spawn(posComp); err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	changed, err := InitTerms(storage, posComp.Changed())
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}

	// First run observes the initial insert as a change.
	if got := drainCount(t, changed); got != 1 {
		t.Errorf("First run matched %d, expected 1", got)
	}
	// Nothing changed since the last run.
	if got := drainCount(t, changed); got != 0 {
		t.Errorf("Second run matched %d, expected 0", got)
	}

	storage.AdvanceTick()
	writer, err := InitTerms(storage, posComp.Mut())
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}
	cur := writer.Cursor()
	for cur.Next() {
		posComp.MutFromCursor(cur).Get().X = 42
	}

	if got := drainCount(t, changed); got != 1 {
		t.Errorf("Run after mutation matched %d, expected 1", got)
	}

	// Peek must not count as a change.
	storage.AdvanceTick()
	cur = writer.Cursor()
	for cur.Next() {
		_ = posComp.MutFromCursor(cur).Peek().X
	}
	if got := drainCount(t, changed); got != 0 {
		t.Errorf("Run after peek matched %d, expected 0", got)
	}
}

// TestAddedDetection verifies Added only reports rows inserted since the
// query's last run.
func TestAddedDetection(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	storage := Factory.NewStorage(Factory.NewSchema())

	if _, err := storage.Spawn(posComp); err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	added, err := InitTerms(storage, posComp.Added())
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}
	if got := drainCount(t, added); got != 1 {
		t.Errorf("First run matched %d, expected 1", got)
	}

	storage.AdvanceTick()
	if _, err := storage.Spawn(posComp); err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	if got := drainCount(t, added); got != 1 {
		t.Errorf("Run after second spawn matched %d, expected 1", got)
	}
}

// TestBorrowViolation verifies dynamic-path column borrows reject conflicting
// concurrent iteration as an error, not a panic.
func TestBorrowViolation(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	storage := Factory.NewStorage(Factory.NewSchema())

	if _, err := storage.NewEntities(2, posComp); err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	writer, err := InitTerms(storage, PtrMut(posComp))
	if err != nil {
		t.Fatalf("Failed to build writer query: %v", err)
	}
	reader, err := InitTerms(storage, Ptr(posComp))
	if err != nil {
		t.Fatalf("Failed to build reader query: %v", err)
	}

	wcur := writer.Cursor()
	if !wcur.Next() {
		t.Fatal("Writer cursor found nothing")
	}

	rcur := reader.Cursor()
	if rcur.Next() {
		t.Fatal("Reader cursor entered a uniquely borrowed column")
	}
	var borrowErr BorrowError
	if !errors.As(rcur.Err(), &borrowErr) {
		t.Fatalf("Reader cursor error = %v, expected BorrowError", rcur.Err())
	}

	wcur.Reset()

	// With the unique borrow released, shared borrows proceed.
	rcur = reader.Cursor()
	n := 0
	for rcur.Next() {
		n++
	}
	if err := rcur.Err(); err != nil {
		t.Fatalf("Reader cursor failed after release: %v", err)
	}
	if n != 2 {
		t.Errorf("Reader matched %d rows, expected 2", n)
	}
}

// A dynamic-plan Get holds its column borrow until the item is released, so
// the check covers the caller's actual access window.
func TestGetHoldsDynamicBorrow(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	storage := Factory.NewStorage(Factory.NewSchema())

	entities, err := storage.NewEntities(1, posComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	reader, err := InitTerms(storage, Ptr(posComp))
	if err != nil {
		t.Fatalf("Failed to build reader query: %v", err)
	}
	writer, err := InitTerms(storage, PtrMut(posComp))
	if err != nil {
		t.Fatalf("Failed to build writer query: %v", err)
	}

	item, err := reader.Get(entities[0])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	wcur := writer.Cursor()
	if wcur.Next() {
		t.Fatal("Unique borrow granted while a Get item holds a shared borrow")
	}
	var borrowErr BorrowError
	if !errors.As(wcur.Err(), &borrowErr) {
		t.Fatalf("Writer cursor error = %v, expected BorrowError", wcur.Err())
	}

	item.Release()
	item.Release() // idempotent

	wcur = writer.Cursor()
	if !wcur.Next() {
		t.Fatalf("Writer cursor rejected after release: %v", wcur.Err())
	}
	wcur.Reset()
}

// TestSharedBorrowsCoexist verifies two reading cursors can overlap.
func TestSharedBorrowsCoexist(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	storage := Factory.NewStorage(Factory.NewSchema())

	if _, err := storage.NewEntities(2, posComp); err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	reader, err := InitTerms(storage, Ptr(posComp))
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}
	first := reader.Cursor()
	if !first.Next() {
		t.Fatal("First cursor found nothing")
	}
	second := reader.Cursor()
	if !second.Next() {
		t.Fatalf("Second shared cursor rejected: %v", second.Err())
	}
	first.Reset()
	second.Reset()
}

// Overlapping cursors each hold the storage lock, so the first Reset must
// not drain queued mutations while the second cursor is still iterating.
func TestNestedCursorLocks(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	storage := Factory.NewStorage(Factory.NewSchema())

	entities, err := storage.NewEntities(3, posComp)
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}

	reader, err := InitTerms(storage, posComp.Read())
	if err != nil {
		t.Fatalf("Failed to build query: %v", err)
	}
	first := reader.Cursor()
	if !first.Next() {
		t.Fatal("First cursor found nothing")
	}
	second := reader.Cursor()
	if !second.Next() {
		t.Fatal("Second cursor found nothing")
	}

	first.Reset()
	if !storage.Locked() {
		t.Fatal("Storage unlocked while a cursor is still iterating")
	}
	var lockedErr LockedStorageError
	if err := storage.DestroyEntities(entities[0]); !errors.As(err, &lockedErr) {
		t.Fatalf("DestroyEntities = %v, expected LockedStorageError", err)
	}
	if err := storage.EnqueueDestroyEntities(entities[0]); err != nil {
		t.Fatalf("Failed to enqueue destroy: %v", err)
	}
	if !storage.Alive(entities[0]) {
		t.Fatal("Queued destroy applied under a live cursor")
	}

	seen := 1
	for second.Next() {
		seen++
	}
	if err := second.Err(); err != nil {
		t.Fatalf("Second cursor failed: %v", err)
	}
	if seen != 3 {
		t.Errorf("Second cursor saw %d rows, expected 3", seen)
	}
	second.Reset()

	if storage.Locked() {
		t.Error("Storage still locked after all cursors reset")
	}
	if storage.Alive(entities[0]) {
		t.Error("Queued destroy not applied after the final unlock")
	}
}
