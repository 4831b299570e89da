// Package predictor animates queue progress and resource growth on the
// client between server snapshots. It never writes game state: a detected
// completion only asks for a fresh snapshot.
package predictor

import (
	"context"
	"io"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"ownrealm/pkg/game"
	"ownrealm/pkg/types"
)

// Fetcher performs the combined resources + queues + rates pull.
type Fetcher interface {
	Sync(ctx context.Context, settlementID int64) (types.SyncSnapshot, error)
}

type ClockMode int

const (
	// ClockLocal trusts the local clock as is.
	ClockLocal ClockMode = iota
	// ClockServerOffset shifts local time by the offset observed at the last sync.
	ClockServerOffset
)

const (
	minTick = 100 * time.Millisecond
	maxTick = 300 * time.Millisecond
)

type Config struct {
	SettlementID   int64
	TickInterval   time.Duration
	ResyncInterval time.Duration
	FetchTimeout   time.Duration
	Clock          ClockMode
	Now            func() time.Time
	Logger         *log.Logger
	// OnRefresh is called from Tick once per locally completed entry.
	OnRefresh      func(types.QueueEntry)
}

func (c *Config) setDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = 200 * time.Millisecond
	}
	c.TickInterval = min(maxTick, max(minTick, c.TickInterval))
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
}

// EntryView is a queue entry as currently displayed.
type EntryView struct {
	types.QueueEntry
	Remaining time.Duration `json:"remaining"`
}

type View struct {
	Now       time.Time                         `json:"now"`
	LastSync  time.Time                         `json:"last_sync"`
	Offset    time.Duration                     `json:"offset"`
	Resources types.ResourceState               `json:"resources"`
	Queues    map[types.SubjectType][]EntryView `json:"queues"`
	InFlight  int                               `json:"in_flight"`
}

type result struct {
	snap       types.SyncSnapshot
	err        error
	receivedAt time.Time
}

type Predictor struct {
	cfg     Config
	fetcher Fetcher
	results chan result

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu           sync.Mutex
	synced       bool
	snap         types.SyncSnapshot
	queues       map[types.SubjectType][]types.QueueEntry
	completed    map[int64]bool
	shown        types.Resources
	lastSync     time.Time
	lastAttempt  time.Time
	offset       time.Duration
	needsRefresh bool
	inFlight     int
	view         View
}

func New(fetcher Fetcher, cfg Config) *Predictor {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Predictor{
		cfg:       cfg,
		fetcher:   fetcher,
		results:   make(chan result, 16),
		ctx:       ctx,
		cancel:    cancel,
		queues:    map[types.SubjectType][]types.QueueEntry{},
		completed: map[int64]bool{},
	}
}

// Initialize performs the first sync synchronously.
func (p *Predictor) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	snap, err := p.fetcher.Sync(ctx, p.cfg.SettlementID)
	now := p.cfg.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAttempt = now
	if err != nil {
		return err
	}
	p.apply(snap, now)
	p.view = p.render(now)
	return nil
}

// ForceResync starts a fetch right away, e.g. after the caller submitted an
// action.
func (p *Predictor) ForceResync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startFetch(p.cfg.Now())
}

// Stop ends Run and abandons in-flight fetches. It is safe to call twice.
func (p *Predictor) Stop() {
	p.once.Do(p.cancel)
}

// Run ticks until ctx is done or Stop is called.
func (p *Predictor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Tick(p.cfg.Now())
		}
	}
}

// View returns the result of the last tick.
func (p *Predictor) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Tick applies arrived snapshots, advances progress to now, detects
// completions and schedules resyncs.
func (p *Predictor) Tick(now time.Time) View {
	p.mu.Lock()
	p.drain()

	var done []types.QueueEntry
	at := p.adjusted(now)
	for _, st := range types.AllSubjectTypes() {
		for {
			q := p.queues[st]
			if len(q) == 0 || at.Before(q[0].EndTime) {
				break
			}
			head := q[0]
			p.completed[head.ID] = true
			head.Status = types.QueueCompleted
			head.CompletionPercentage = 100
			done = append(done, head)
			rest := q[1:]
			for i := range rest {
				rest[i].QueueIndex--
			}
			p.queues[st] = rest
			p.needsRefresh = true
		}
	}

	switch {
	case p.needsRefresh:
		p.needsRefresh = false
		p.startFetch(now)
	case p.inFlight == 0 && now.Sub(p.lastAttempt) >= p.cfg.ResyncInterval:
		p.startFetch(now)
	}

	p.view = p.render(now)
	v := p.view
	p.mu.Unlock()

	if p.cfg.OnRefresh != nil {
		for _, e := range done {
			p.cfg.OnRefresh(e)
		}
	}
	return v
}

func (p *Predictor) adjusted(now time.Time) time.Time {
	if p.cfg.Clock == ClockServerOffset {
		return now.Add(p.offset)
	}
	return now
}

// startFetch must be called with mu held.
func (p *Predictor) startFetch(now time.Time) {
	if p.ctx.Err() != nil {
		return
	}
	p.inFlight++
	p.lastAttempt = now
	go func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.FetchTimeout)
		defer cancel()
		snap, err := p.fetcher.Sync(ctx, p.cfg.SettlementID)
		r := result{snap: snap, err: err, receivedAt: p.cfg.Now()}
		select {
		case p.results <- r:
		case <-p.ctx.Done():
		}
	}()
}

// drain applies every result that has arrived, in arrival order. Must be
// called with mu held.
func (p *Predictor) drain() {
	for {
		select {
		case r := <-p.results:
			p.inFlight--
			if r.err != nil {
				p.cfg.Logger.Printf("sync settlement %d: %v", p.cfg.SettlementID, r.err)
				continue
			}
			p.apply(r.snap, r.receivedAt)
		default:
			return
		}
	}
}

// apply replaces local state wholesale with a server snapshot.
func (p *Predictor) apply(snap types.SyncSnapshot, receivedAt time.Time) {
	p.synced = true
	p.snap = snap
	p.lastSync = receivedAt
	if !snap.ServerTime.IsZero() {
		p.offset = snap.ServerTime.Sub(receivedAt)
	}
	p.shown = snap.Resources.Amounts()
	p.queues = make(map[types.SubjectType][]types.QueueEntry, len(snap.Queues))
	listed := map[int64]bool{}
	for st, entries := range snap.Queues {
		q := make([]types.QueueEntry, 0, len(entries))
		for _, e := range entries {
			listed[e.ID] = true
			// a head already reported done stays done until the server drops it
			if !p.completed[e.ID] {
				q = append(q, e)
			}
		}
		sort.SliceStable(q, func(i, j int) bool { return q[i].QueueIndex < q[j].QueueIndex })
		for i := range q {
			q[i].QueueIndex = i
		}
		p.queues[st] = q
	}
	for id := range p.completed {
		if !listed[id] {
			delete(p.completed, id)
		}
	}
}

// render must be called with mu held.
func (p *Predictor) render(now time.Time) View {
	at := p.adjusted(now)
	v := View{
		Now:      at,
		LastSync: p.lastSync,
		Offset:   p.offset,
		InFlight: p.inFlight,
		Queues:   make(map[types.SubjectType][]EntryView, len(p.queues)),
	}
	if !p.synced {
		return v
	}

	res := p.snap.Resources
	elapsed := at.Sub(res.UpdatedAt)
	for _, rt := range types.AllResourceTypes() {
		amount := game.Regenerate(float64(res.Amounts().Get(rt)), res.StorageCapacity, res.Rates.Get(rt), elapsed)
		shown := max(p.shown.Get(rt), int(math.Floor(amount)))
		p.shown.Set(rt, shown)
	}
	res.SetAmounts(p.shown)
	v.Resources = res

	for st, q := range p.queues {
		out := make([]EntryView, len(q))
		var ahead time.Duration
		for i, e := range q {
			ev := EntryView{QueueEntry: e}
			ev.QueueIndex = i
			if i == 0 {
				ev.Status = types.QueueActive
				ev.CompletionPercentage = percentage(e.StartTime, e.EndTime, at)
				ev.Remaining = max(0, e.EndTime.Sub(at))
			} else {
				ev.Status = types.QueueQueued
				ev.CompletionPercentage = 0
				ev.Remaining = ahead + e.Duration()
			}
			ahead = ev.Remaining
			out[i] = ev
		}
		v.Queues[st] = out
	}
	return v
}

func percentage(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		if now.Before(end) {
			return 0
		}
		return 100
	}
	return min(100, max(0, float64(now.Sub(start))/float64(total)*100))
}
