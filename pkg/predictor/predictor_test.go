package predictor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ownrealm/pkg/types"
)

var t0 = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

// fakeFetcher answers call n with respond(n). A non-nil gate for call n
// holds the answer until the channel is closed.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	gates   map[int]chan struct{}
	respond func(n int) (types.SyncSnapshot, error)
}

func (f *fakeFetcher) Sync(ctx context.Context, _ int64) (types.SyncSnapshot, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gates[n]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.SyncSnapshot{}, ctx.Err()
		}
	}
	return f.respond(n)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func snapshot(entries ...types.QueueEntry) types.SyncSnapshot {
	return types.SyncSnapshot{
		ServerTime: t0,
		Resources: types.ResourceState{
			SettlementID: 1, Wood: 100, Stone: 100, Ore: 100, StorageCapacity: 150,
			Rates: types.Rates{Wood: 360}, UpdatedAt: t0,
		},
		Queues: map[types.SubjectType][]types.QueueEntry{types.SubjectBuilding: entries},
	}
}

func entry(id int64, index int, start, end time.Time) types.QueueEntry {
	return types.QueueEntry{ID: id, SettlementID: 1, SubjectType: types.SubjectBuilding, SubjectKey: "farm",
		Target: 2, QueueIndex: index, StartTime: start, EndTime: end}
}

func fixed(s types.SyncSnapshot) func(int) (types.SyncSnapshot, error) {
	return func(int) (types.SyncSnapshot, error) { return s, nil }
}

func newPredictor(t *testing.T, f Fetcher, cfg Config) *Predictor {
	t.Helper()
	cfg.SettlementID = 1
	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return t0 }
	}
	p := New(f, cfg)
	t.Cleanup(p.Stop)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestTickActiveAndQueuedEntries(t *testing.T) {
	f := &fakeFetcher{respond: fixed(snapshot(
		entry(1, 0, t0.Add(-30*time.Second), t0.Add(60*time.Second)),
		entry(2, 1, t0.Add(60*time.Second), t0.Add(120*time.Second)),
		entry(3, 2, t0.Add(120*time.Second), t0.Add(150*time.Second)),
	))}
	p := newPredictor(t, f, Config{})

	v := p.Tick(t0)
	q := v.Queues[types.SubjectBuilding]
	require.Len(t, q, 3)
	assert.InDelta(t, 33.33, q[0].CompletionPercentage, 0.01)
	assert.Equal(t, 60*time.Second, q[0].Remaining)
	assert.Equal(t, 0.0, q[1].CompletionPercentage)
	assert.Equal(t, 120*time.Second, q[1].Remaining)
	assert.Equal(t, 150*time.Second, q[2].Remaining)
	assert.Equal(t, types.QueueQueued, q[2].Status)
	assert.Equal(t, 1, f.Calls())
}

func TestPercentageMonotonicWhileActive(t *testing.T) {
	f := &fakeFetcher{respond: fixed(snapshot(entry(1, 0, t0, t0.Add(time.Minute))))}
	p := newPredictor(t, f, Config{})
	last := 0.0
	for ms := 0; ms < 60000; ms += 250 {
		v := p.Tick(t0.Add(time.Duration(ms) * time.Millisecond))
		pct := v.Queues[types.SubjectBuilding][0].CompletionPercentage
		require.GreaterOrEqual(t, pct, last)
		require.LessOrEqual(t, pct, 100.0)
		last = pct
	}
}

func TestCompletionDetectedOnce(t *testing.T) {
	snap := snapshot(
		entry(1, 0, t0, t0.Add(10*time.Second)),
		entry(2, 1, t0.Add(10*time.Second), t0.Add(20*time.Second)),
	)
	f := &fakeFetcher{respond: fixed(snap)}
	var mu sync.Mutex
	var refreshed []int64
	p := newPredictor(t, f, Config{OnRefresh: func(e types.QueueEntry) {
		mu.Lock()
		refreshed = append(refreshed, e.ID)
		mu.Unlock()
	}})

	now := t0.Add(11 * time.Second)
	v := p.Tick(now)
	q := v.Queues[types.SubjectBuilding]
	require.Len(t, q, 1)
	assert.Equal(t, int64(2), q[0].ID)
	assert.Equal(t, 0, q[0].QueueIndex)
	assert.InDelta(t, 10.0, q[0].CompletionPercentage, 1e-9)

	// the completion asked for a resync; the server still lists entry 1
	require.Eventually(t, func() bool { return f.Calls() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Tick(now).InFlight == 0 }, time.Second, 5*time.Millisecond)

	v = p.Tick(now)
	q = v.Queues[types.SubjectBuilding]
	require.Len(t, q, 1)
	assert.Equal(t, int64(2), q[0].ID)
	assert.Equal(t, 0, q[0].QueueIndex)
	mu.Lock()
	assert.Equal(t, []int64{1}, refreshed)
	mu.Unlock()
	assert.Equal(t, 2, f.Calls())
}

func TestStaleSnapshotDoesNotHoldBackNextCompletion(t *testing.T) {
	snap := snapshot(
		entry(1, 0, t0, t0.Add(10*time.Second)),
		entry(2, 1, t0.Add(10*time.Second), t0.Add(20*time.Second)),
	)
	f := &fakeFetcher{respond: fixed(snap)}
	var mu sync.Mutex
	var refreshed []int64
	p := newPredictor(t, f, Config{OnRefresh: func(e types.QueueEntry) {
		mu.Lock()
		refreshed = append(refreshed, e.ID)
		mu.Unlock()
	}})

	p.Tick(t0.Add(11 * time.Second))
	require.Eventually(t, func() bool { return f.Calls() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Tick(t0.Add(11*time.Second)).InFlight == 0 }, time.Second, 5*time.Millisecond)

	p.Tick(t0.Add(25 * time.Second))
	require.Eventually(t, func() bool { return f.Calls() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Tick(t0.Add(25*time.Second)).InFlight == 0 }, time.Second, 5*time.Millisecond)

	assert.Empty(t, p.View().Queues[types.SubjectBuilding])
	mu.Lock()
	assert.Equal(t, []int64{1, 2}, refreshed)
	mu.Unlock()
}

func TestCompletedForgottenOnceServerDropsIt(t *testing.T) {
	f := &fakeFetcher{respond: func(n int) (types.SyncSnapshot, error) {
		if n == 1 {
			return snapshot(
				entry(1, 0, t0, t0.Add(10*time.Second)),
				entry(2, 1, t0.Add(10*time.Second), t0.Add(time.Hour)),
			), nil
		}
		return snapshot(entry(2, 0, t0.Add(10*time.Second), t0.Add(time.Hour))), nil
	}}
	p := newPredictor(t, f, Config{})

	now := t0.Add(11 * time.Second)
	p.Tick(now)
	p.mu.Lock()
	assert.True(t, p.completed[1])
	p.mu.Unlock()

	require.Eventually(t, func() bool { return f.Calls() == 2 && p.Tick(now).InFlight == 0 }, time.Second, 5*time.Millisecond)
	p.mu.Lock()
	assert.Empty(t, p.completed)
	p.mu.Unlock()
	q := p.View().Queues[types.SubjectBuilding]
	require.Len(t, q, 1)
	assert.Equal(t, int64(2), q[0].ID)
}

func TestResyncAfterInterval(t *testing.T) {
	f := &fakeFetcher{respond: fixed(snapshot())}
	p := newPredictor(t, f, Config{ResyncInterval: 30 * time.Second})

	p.Tick(t0.Add(10 * time.Second))
	assert.Equal(t, 1, f.Calls())
	p.Tick(t0.Add(31 * time.Second))
	require.Eventually(t, func() bool { return f.Calls() == 2 }, time.Second, 5*time.Millisecond)

	p.ForceResync()
	require.Eventually(t, func() bool { return f.Calls() == 3 }, time.Second, 5*time.Millisecond)
}

func TestResourcesExtrapolateAndNeverDecrease(t *testing.T) {
	f := &fakeFetcher{respond: fixed(snapshot())}
	p := newPredictor(t, f, Config{})

	v := p.Tick(t0.Add(500 * time.Second))
	assert.Equal(t, 150, v.Resources.Wood)
	assert.Equal(t, 100, v.Resources.Stone)

	v = p.Tick(t0.Add(1000 * time.Second))
	assert.Equal(t, 150, v.Resources.Wood)

	v = p.Tick(t0.Add(-time.Hour))
	assert.Equal(t, 150, v.Resources.Wood)
}

func TestFailedSyncKeepsState(t *testing.T) {
	good := snapshot(entry(1, 0, t0, t0.Add(time.Hour)))
	f := &fakeFetcher{respond: func(n int) (types.SyncSnapshot, error) {
		if n == 1 {
			return good, nil
		}
		return types.SyncSnapshot{}, errors.New("connection refused")
	}}
	p := newPredictor(t, f, Config{})
	before := p.Tick(t0)

	p.ForceResync()
	require.Eventually(t, func() bool { return f.Calls() == 2 && p.Tick(t0).InFlight == 0 }, time.Second, 5*time.Millisecond)

	after := p.Tick(t0)
	assert.Equal(t, before.LastSync, after.LastSync)
	assert.Equal(t, before.Queues, after.Queues)
}

func TestLastArrivalWins(t *testing.T) {
	first := snapshot(entry(10, 0, t0, t0.Add(time.Hour)))
	second := snapshot(entry(20, 0, t0, t0.Add(time.Hour)))
	gates := map[int]chan struct{}{2: make(chan struct{}), 3: make(chan struct{})}
	f := &fakeFetcher{gates: gates, respond: func(n int) (types.SyncSnapshot, error) {
		if n == 2 {
			return first, nil
		}
		if n == 3 {
			return second, nil
		}
		return snapshot(), nil
	}}
	p := newPredictor(t, f, Config{})

	p.ForceResync()
	require.Eventually(t, func() bool { return f.Calls() == 2 }, time.Second, 5*time.Millisecond)
	p.ForceResync()
	require.Eventually(t, func() bool { return f.Calls() == 3 }, time.Second, 5*time.Millisecond)

	// the later request answers first
	close(gates[3])
	require.Eventually(t, func() bool { return p.Tick(t0).InFlight == 1 }, time.Second, 5*time.Millisecond)
	close(gates[2])
	require.Eventually(t, func() bool { return p.Tick(t0).InFlight == 0 }, time.Second, 5*time.Millisecond)

	q := p.View().Queues[types.SubjectBuilding]
	require.Len(t, q, 1)
	assert.Equal(t, int64(10), q[0].ID)
}

func TestServerOffsetClock(t *testing.T) {
	snap := snapshot(entry(1, 0, t0, t0.Add(100*time.Second)))
	local := t0.Add(-50 * time.Second) // local clock runs 50s behind
	f := &fakeFetcher{respond: fixed(snap)}

	legacy := newPredictor(t, f, Config{Now: func() time.Time { return local }})
	v := legacy.Tick(local)
	assert.Equal(t, 0.0, v.Queues[types.SubjectBuilding][0].CompletionPercentage)

	skewed := newPredictor(t, f, Config{Clock: ClockServerOffset, Now: func() time.Time { return local }})
	v = skewed.Tick(local.Add(25 * time.Second))
	assert.Equal(t, 50*time.Second, v.Offset)
	assert.InDelta(t, 25.0, v.Queues[types.SubjectBuilding][0].CompletionPercentage, 1e-9)
}

func TestRunStops(t *testing.T) {
	f := &fakeFetcher{respond: fixed(snapshot())}
	p := newPredictor(t, f, Config{TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	p.Stop()
	p.Stop()
}
