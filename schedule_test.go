package quarry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScheduleOrdering tests the spec'd chain S1 -> S2 -> S3 with an
// unrelated S4 touching disjoint components.
func TestScheduleOrdering(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()
	schema := Factory.NewSchema()

	b := NewScheduleBuilder(schema)
	s1 := b.AddSystem("input", posComp.Mut())
	s2 := b.AddSystem("movement", posComp.Read(), velComp.Mut())
	s3 := b.AddSystem("render", posComp.Read(), velComp.Read())
	s4 := b.AddSystem("regen", healthComp.Mut())
	b.Before(s1, s2)
	b.Before(s2, s3)

	sched, err := b.Build()
	require.NoError(t, err)
	require.Empty(t, sched.Ambiguities())

	pos := make(map[NodeID]int)
	for i, n := range sched.Order() {
		pos[n] = i
	}
	require.Len(t, pos, 4)
	require.Less(t, pos[s1], pos[s2])
	require.Less(t, pos[s2], pos[s3])

	require.True(t, sched.Ordered(s1, s3), "transitive ordering lost")
	require.False(t, sched.Ordered(s3, s1))
	require.False(t, sched.Ordered(s1, s4))

	// The disjoint system can overlap anything; the ordered chain cannot.
	require.True(t, sched.CanRunConcurrently(s1, s4))
	require.False(t, sched.CanRunConcurrently(s1, s2))
}

// TestScheduleAmbiguity tests conflict reporting between unordered systems.
func TestScheduleAmbiguity(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	schema := Factory.NewSchema()

	b := NewScheduleBuilder(schema)
	sa := b.AddSystem("physics", posComp.Mut())
	sb := b.AddSystem("teleport", posComp.Mut(), velComp.Read())

	sched, err := b.Build()
	require.NoError(t, err)
	require.Len(t, sched.Ambiguities(), 1)

	amb := sched.Ambiguities()[0]
	require.ElementsMatch(t, []NodeID{sa, sb}, []NodeID{amb.A, amb.B})
	require.Len(t, amb.Components, 1)
	require.Equal(t, posComp.ID(), amb.Components[0].ID())
}

// TestScheduleAmbiguityResolvedByEdge verifies an explicit ordering clears
// the report.
func TestScheduleAmbiguityResolvedByEdge(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	schema := Factory.NewSchema()

	b := NewScheduleBuilder(schema)
	sa := b.AddSystem("physics", posComp.Mut())
	sb := b.AddSystem("teleport", posComp.Mut())
	b.After(sb, sa)

	sched, err := b.Build()
	require.NoError(t, err)
	require.Empty(t, sched.Ambiguities())
	require.True(t, sched.Ordered(sa, sb))
}

// TestScheduleAmbiguityPolicies tests IgnoreAll and IgnoreWithSets
// suppression.
func TestScheduleAmbiguityPolicies(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	schema := Factory.NewSchema()

	t.Run("IgnoreAll", func(t *testing.T) {
		b := NewScheduleBuilder(schema)
		sa := b.AddSystem("physics", posComp.Mut())
		b.AddSystem("teleport", posComp.Mut())
		b.SetAmbiguityPolicy(sa, AmbiguityIgnoreAll())

		sched, err := b.Build()
		require.NoError(t, err)
		require.Empty(t, sched.Ambiguities())
	})

	t.Run("IgnoreWithSets", func(t *testing.T) {
		b := NewScheduleBuilder(schema)
		sa := b.AddSystem("physics", posComp.Mut())
		sb := b.AddSystem("teleport", posComp.Mut())
		sc := b.AddSystem("debug", posComp.Mut())
		setDebug := b.AddSet("debugging")
		b.InSet(sc, setDebug)
		b.SetAmbiguityPolicy(sa, AmbiguityIgnoreWithSets(setDebug))
		b.SetAmbiguityPolicy(sb, AmbiguityIgnoreWithSets(setDebug))

		sched, err := b.Build()
		require.NoError(t, err)
		// physics/teleport still conflict; pairs against the debug set do not.
		require.Len(t, sched.Ambiguities(), 1)
		amb := sched.Ambiguities()[0]
		require.ElementsMatch(t, []NodeID{sa, sb}, []NodeID{amb.A, amb.B})
	})
}

// TestScheduleAmbiguityEscalation verifies WithAmbiguityErrors fails the
// build.
func TestScheduleAmbiguityEscalation(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	schema := Factory.NewSchema()

	b := NewScheduleBuilder(schema, WithAmbiguityErrors())
	b.AddSystem("physics", posComp.Mut())
	b.AddSystem("teleport", posComp.Mut())

	_, err := b.Build()
	var ambErr ScheduleAmbiguityError
	require.ErrorAs(t, err, &ambErr)
	require.Len(t, ambErr.Ambiguities, 1)
}

// TestScheduleCycleFails verifies contradictory constraints report the cycle
// with system names.
func TestScheduleCycleFails(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	schema := Factory.NewSchema()

	b := NewScheduleBuilder(schema)
	sa := b.AddSystem("first", posComp.Read())
	sb := b.AddSystem("second", posComp.Read())
	b.Before(sa, sb)
	b.Before(sb, sa)

	_, err := b.Build()
	var cycleErr ScheduleCycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Len(t, cycleErr.Cycles, 1)
	require.Contains(t, err.Error(), "first")
	require.Contains(t, err.Error(), "second")
}

// TestScheduleSetEdges verifies set-level constraints expand to every member.
func TestScheduleSetEdges(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()
	schema := Factory.NewSchema()

	b := NewScheduleBuilder(schema)
	sa := b.AddSystem("integrate", posComp.Mut(), velComp.Read())
	sb := b.AddSystem("collide", posComp.Mut())
	sc := b.AddSystem("render", posComp.Read(), healthComp.Read())
	physics := b.AddSet("physics")
	b.InSet(sa, physics)
	b.InSet(sb, physics)
	b.Before(sa, sb)
	b.Before(physics, sc)

	sched, err := b.Build()
	require.NoError(t, err)
	require.Empty(t, sched.Ambiguities())
	require.True(t, sched.Ordered(sa, sc))
	require.True(t, sched.Ordered(sb, sc))

	require.Equal(t, "physics", sched.Name(physics))
	require.Equal(t, "render", sched.Name(sc))
}

// TestScheduleConflictingSystemTerms verifies a system with internally
// aliasing terms fails the build.
func TestScheduleConflictingSystemTerms(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	schema := Factory.NewSchema()

	b := NewScheduleBuilder(schema)
	b.AddSystem("broken", posComp.Read(), posComp.Mut())

	_, err := b.Build()
	require.ErrorAs(t, err, &ConflictingAccessError{})
}
