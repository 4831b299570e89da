package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/store"
	"ownrealm/pkg/types"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Service, *store.Store, *clock, int64) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverPure, filepath.Join(t.TempDir(), "queue.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	c := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	id, err := st.CreateSettlement(ctx, "Ashford", 0, 0, c.Now())
	require.NoError(t, err)
	return New(st, c.Now, nil), st, c, id
}

func TestPercentage(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	p := Percentage(now.Add(-30000*time.Millisecond), now.Add(60000*time.Millisecond), now)
	assert.InDelta(t, 33.33, p, 0.01)

	assert.Equal(t, 0.0, Percentage(now.Add(time.Minute), now.Add(2*time.Minute), now))
	assert.Equal(t, 100.0, Percentage(now.Add(-2*time.Minute), now.Add(-time.Minute), now))
	assert.Equal(t, 100.0, Percentage(now, now, now))
	assert.Equal(t, 0.0, Percentage(now.Add(time.Second), now.Add(time.Second), now))

	start, end := now, now.Add(time.Hour)
	last := -1.0
	for i := 0; i <= 80; i++ {
		p := Percentage(start, end, now.Add(time.Duration(i)*time.Minute-10*time.Minute))
		require.GreaterOrEqual(t, p, 0.0)
		require.LessOrEqual(t, p, 100.0)
		require.GreaterOrEqual(t, p, last)
		last = p
	}
}

func TestEnqueueBackToBack(t *testing.T) {
	svc, _, c, id := setup(t)
	ctx := context.Background()
	cost := types.Cost{Resources: types.Resources{Wood: 10}}

	first, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Quarry, 2, cost, 5*time.Minute)
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Lumberjack, 2, cost, 3*time.Minute)
	require.NoError(t, err)

	assert.True(t, first.StartTime.Equal(c.Now()))
	assert.Equal(t, 0, first.QueueIndex)
	assert.True(t, second.StartTime.Equal(first.EndTime))
	assert.Equal(t, 1, second.QueueIndex)
	assert.Equal(t, 3*time.Minute, second.Duration())

	// other subject types have their own queue
	research, err := svc.Enqueue(ctx, id, types.SubjectResearch, game.Longbow, 1, cost, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, research.QueueIndex)
	assert.True(t, research.StartTime.Equal(c.Now()))
}

func TestEnqueueAfterTailFinished(t *testing.T) {
	svc, _, c, id := setup(t)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Quarry, 2, types.Cost{}, time.Minute)
	require.NoError(t, err)
	c.Advance(time.Hour)
	second, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Quarry, 3, types.Cost{}, time.Minute)
	require.NoError(t, err)
	assert.True(t, second.StartTime.Equal(c.Now()))
	assert.True(t, second.StartTime.After(first.EndTime))
}

func TestEnqueueInsufficientDebitsNothing(t *testing.T) {
	svc, st, c, id := setup(t)
	ctx := context.Background()

	before, err := st.Resources(ctx, id, c.Now())
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, id, types.SubjectBuilding, game.Keep, 2,
		types.Cost{Resources: types.Resources{Wood: 1, Stone: 1, Ore: 100000}}, time.Minute)
	require.True(t, core.IsValidation(err))

	_, err = svc.Enqueue(ctx, id, types.SubjectMilitaryUnit, game.Spearman, 1000,
		types.Cost{Settlers: 100000}, time.Minute)
	require.True(t, core.IsValidation(err))

	after, err := st.Resources(ctx, id, c.Now())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := svc.ListOpen(ctx, id, types.SubjectBuilding)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = svc.Enqueue(ctx, id, types.SubjectBuilding, game.Keep, 2, types.Cost{}, -time.Second)
	assert.True(t, core.IsValidation(err))
}

func TestEnqueueDebitsResourcesAndSettlers(t *testing.T) {
	svc, st, c, id := setup(t)
	ctx := context.Background()
	before, _ := st.Resources(ctx, id, c.Now())

	_, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Quarry, 2,
		types.Cost{Resources: types.Resources{Wood: 100, Stone: 50, Ore: 25}, Settlers: 2}, time.Minute)
	require.NoError(t, err)

	after, _ := st.Resources(ctx, id, c.Now())
	assert.Equal(t, before.Wood-100, after.Wood)
	assert.Equal(t, before.Stone-50, after.Stone)
	assert.Equal(t, before.Ore-25, after.Ore)
	assert.Equal(t, before.FreeSettlers-2, after.FreeSettlers)
}

func TestCancelDoesNotRefund(t *testing.T) {
	svc, st, c, id := setup(t)
	ctx := context.Background()
	cost := types.Cost{Resources: types.Resources{Wood: 100}, Settlers: 1}

	a, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Quarry, 2, cost, time.Minute)
	require.NoError(t, err)
	b, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Farm, 2, cost, time.Minute)
	require.NoError(t, err)
	spent, _ := st.Resources(ctx, id, c.Now())

	require.NoError(t, svc.Cancel(ctx, a.ID))
	assert.ErrorIs(t, svc.Cancel(ctx, a.ID), core.ErrNotFound)

	after, _ := st.Resources(ctx, id, c.Now())
	assert.Equal(t, spent.Wood, after.Wood)
	assert.Equal(t, spent.FreeSettlers+1, after.FreeSettlers)

	entries, err := svc.ListOpen(ctx, id, types.SubjectBuilding)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].ID)
	assert.Equal(t, 0, entries[0].QueueIndex)
	assert.Equal(t, types.QueueActive, entries[0].Status)
	// b keeps its original window, so it has not started yet
	assert.Equal(t, 0.0, entries[0].CompletionPercentage)
}

func TestListOpenOnlyActiveProgresses(t *testing.T) {
	svc, _, c, id := setup(t)
	ctx := context.Background()
	for _, key := range []string{game.Quarry, game.Farm, game.Lumberjack} {
		_, err := svc.Enqueue(ctx, id, types.SubjectBuilding, key, 2, types.Cost{}, 10*time.Minute)
		require.NoError(t, err)
	}
	c.Advance(5 * time.Minute)
	entries, err := svc.ListOpen(ctx, id, types.SubjectBuilding)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.InDelta(t, 50.0, entries[0].CompletionPercentage, 1e-9)
	for i, e := range entries {
		assert.Equal(t, i, e.QueueIndex)
		if i > 0 {
			assert.Equal(t, 0.0, e.CompletionPercentage)
			assert.Equal(t, types.QueueQueued, e.Status)
		}
	}
}

func TestAdmitPricesNextLevel(t *testing.T) {
	svc, _, _, id := setup(t)
	ctx := context.Background()
	subject, err := game.ParseSubject("building", game.Lumberjack)
	require.NoError(t, err)

	first, err := svc.Admit(ctx, id, subject, 0)
	require.NoError(t, err)
	second, err := svc.Admit(ctx, id, subject, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Target)
	assert.Equal(t, 3, second.Target)
	assert.True(t, second.StartTime.Equal(first.EndTime))

	def, _ := game.Building(game.Lumberjack)
	assert.Equal(t, def.DurationFor(3), second.Duration())

	_, err = svc.Admit(ctx, id, game.Subject{Type: types.SubjectBuilding, Key: "castle"}, 0)
	assert.True(t, core.IsValidation(err))
}

func TestAdmitUnitsNeedBarracks(t *testing.T) {
	svc, _, _, id := setup(t)
	subject, _ := game.ParseSubject("militaryUnit", game.Spearman)
	_, err := svc.Admit(context.Background(), id, subject, 2)
	assert.True(t, core.IsValidation(err))
}

func TestAdmitRejectsOversizedTraining(t *testing.T) {
	svc, st, c, id := setup(t)
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SetBuildingLevel(ctx, id, game.Barracks, 1)
	}))
	before, err := st.Resources(ctx, id, c.Now())
	require.NoError(t, err)

	subject, err := game.ParseSubject("militaryUnit", game.Horseman)
	require.NoError(t, err)
	for _, count := range []int{4809844402031689728, game.MaxTrainCount + 1} {
		_, err = svc.Admit(ctx, id, subject, count)
		require.True(t, core.IsValidation(err), "count %d: %v", count, err)
	}

	after, err := st.Resources(ctx, id, c.Now())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	entries, err := svc.ListOpen(ctx, id, types.SubjectMilitaryUnit)
	require.NoError(t, err)
	assert.Empty(t, entries)

	c.Advance(24 * time.Hour)
	n, err := svc.CompleteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	s, err := st.Settlement(ctx, id, c.Now())
	require.NoError(t, err)
	assert.Zero(t, s.Units[game.Horseman])
}

func TestEnqueueRejectsNegativeCost(t *testing.T) {
	svc, st, c, id := setup(t)
	ctx := context.Background()
	before, err := st.Resources(ctx, id, c.Now())
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, id, types.SubjectMilitaryUnit, game.Spearman, 1,
		types.Cost{Resources: types.Resources{Wood: -800}}, time.Minute)
	assert.True(t, core.IsValidation(err))
	_, err = svc.Enqueue(ctx, id, types.SubjectMilitaryUnit, game.Spearman, 1,
		types.Cost{Settlers: -5}, time.Minute)
	assert.True(t, core.IsValidation(err))

	after, err := st.Resources(ctx, id, c.Now())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCompleteDueForOneSettlement(t *testing.T) {
	svc, st, c, id := setup(t)
	ctx := context.Background()
	other, err := st.CreateSettlement(ctx, "Brackwater", 5, 5, c.Now())
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, id, types.SubjectBuilding, game.Lumberjack, 2, types.Cost{}, 10*time.Second)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, id, types.SubjectBuilding, game.Lumberjack, 3, types.Cost{}, 10*time.Second)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, other, types.SubjectBuilding, game.Quarry, 2, types.Cost{}, 10*time.Second)
	require.NoError(t, err)

	c.Advance(25 * time.Second)
	n, err := svc.CompleteDueFor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s, err := st.Settlement(ctx, id, c.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Buildings[game.Lumberjack])
	open, err := svc.ListOpen(ctx, other, types.SubjectBuilding)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	n, err = svc.CompleteDueFor(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompleteDueAppliesEffects(t *testing.T) {
	svc, st, c, id := setup(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, id, types.SubjectBuilding, game.Lumberjack, 2, types.Cost{}, time.Minute)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, id, types.SubjectMilitaryUnit, game.Spearman, 4, types.Cost{}, 2*time.Minute)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, id, types.SubjectResearch, game.Longbow, 1, types.Cost{}, time.Hour)
	require.NoError(t, err)

	n, err := svc.CompleteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.Advance(2 * time.Minute)
	n, err = svc.CompleteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s, err := st.Settlement(ctx, id, c.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Buildings[game.Lumberjack])
	assert.Equal(t, 4, s.Units[game.Spearman])
	assert.Zero(t, s.Research[game.Longbow])
	assert.Equal(t, game.ProductionPerHour(2), s.Resources.Rates.Wood)

	c.Advance(time.Hour)
	n, err = svc.CompleteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	all, err := svc.ListAll(ctx, id)
	require.NoError(t, err)
	for _, entries := range all {
		assert.Empty(t, entries)
	}
}
