// Package queue owns the per-settlement work queues for construction,
// training and research. Every admission checks, debits and appends inside
// a single store transaction.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/store"
	"ownrealm/pkg/types"
)

const completeBatch = 256

type Service struct {
	store *store.Store
	now   func() time.Time
	log   *log.Logger
}

// New returns a queue service. A nil clock means time.Now, a nil logger
// discards output.
func New(st *store.Store, now func() time.Time, logger *log.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{store: st, now: now, log: logger}
}

// Enqueue debits cost and appends one entry behind the current tail of the
// (settlement, subject type) queue.
func (s *Service) Enqueue(ctx context.Context, settlementID int64, st types.SubjectType, key string, target int,
	cost types.Cost, duration time.Duration) (types.QueueEntry, error) {
	var entry types.QueueEntry
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		entry, err = s.enqueueTx(ctx, tx, settlementID, st, key, target, cost, duration)
		return err
	})
	return entry, err
}

// Admit prices a player action from the catalog and enqueues it in the same
// transaction. count is ignored for buildings and research, which always
// advance one level past whatever is already queued.
func (s *Service) Admit(ctx context.Context, settlementID int64, subject game.Subject, count int) (types.QueueEntry, error) {
	if _, err := game.ParseSubject(string(subject.Type), subject.Key); err != nil {
		return types.QueueEntry{}, err
	}
	var entry types.QueueEntry
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		buildings, err := tx.Buildings(ctx, settlementID)
		if err != nil {
			return err
		}
		research, err := tx.Research(ctx, settlementID)
		if err != nil {
			return err
		}
		target := count
		switch subject.Type {
		case types.SubjectBuilding, types.SubjectResearch:
			queued, err := tx.QueuedFor(ctx, settlementID, subject.Type, subject.Key)
			if err != nil {
				return err
			}
			current := buildings[subject.Key]
			if subject.Type == types.SubjectResearch {
				current = research[subject.Key]
			}
			target = current + 1 + queued
		}
		if err := game.CheckRequirements(subject, target, buildings, research); err != nil {
			return err
		}
		cost, duration := game.Price(subject, target)
		entry, err = s.enqueueTx(ctx, tx, settlementID, subject.Type, subject.Key, target, cost, duration)
		return err
	})
	if err == nil {
		s.log.Printf("settlement %d queued %s %s -> %d (ends %s)", settlementID, subject.Type, subject.Key,
			entry.Target, entry.EndTime.Format(time.RFC3339))
	}
	return entry, err
}

func (s *Service) enqueueTx(ctx context.Context, tx *store.Tx, settlementID int64, st types.SubjectType, key string,
	target int, cost types.Cost, duration time.Duration) (types.QueueEntry, error) {
	if duration < 0 || cost.AnyNegative() || cost.Settlers < 0 {
		return types.QueueEntry{}, core.Invalid("cost and duration must not be negative")
	}
	now := s.now().UTC()
	acct, err := tx.Account(ctx, settlementID)
	if err != nil {
		return types.QueueEntry{}, err
	}
	acct.Materialize(now)
	if !acct.Spend(cost) {
		have := acct.Stock.Whole()
		return types.QueueEntry{}, core.Invalid(
			"insufficient resources: need wood %d stone %d ore %d settlers %d, have wood %d stone %d ore %d settlers %d",
			cost.Wood, cost.Stone, cost.Ore, cost.Settlers, have.Wood, have.Stone, have.Ore, acct.FreeSettlers())
	}

	tail, err := tx.QueueTail(ctx, settlementID, st)
	if err != nil {
		return types.QueueEntry{}, err
	}
	entry := types.QueueEntry{
		SettlementID: settlementID,
		SubjectType:  st,
		SubjectKey:   key,
		Target:       target,
		Settlers:     cost.Settlers,
		StartTime:    now,
		Status:       types.QueueActive,
	}
	if tail != nil {
		if tail.EndTime.After(entry.StartTime) {
			entry.StartTime = tail.EndTime
		}
		entry.QueueIndex = tail.QueueIndex + 1
		entry.Status = types.QueueQueued
	}
	entry.EndTime = entry.StartTime.Add(duration)

	if err := tx.SaveAccount(ctx, acct); err != nil {
		return types.QueueEntry{}, err
	}
	if err := tx.InsertQueueEntry(ctx, &entry); err != nil {
		return types.QueueEntry{}, err
	}
	return entry, nil
}

// Cancel deletes an entry immediately. Spent resources are not refunded;
// the settlers it reserved are released.
func (s *Service) Cancel(ctx context.Context, entryID int64) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		entry, err := tx.QueueEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if err := tx.DeleteQueueEntry(ctx, entryID); err != nil {
			return err
		}
		if entry.Settlers == 0 {
			return nil
		}
		acct, err := tx.Account(ctx, entry.SettlementID)
		if err != nil {
			return err
		}
		acct.SettlersUsed = max(0, acct.SettlersUsed-entry.Settlers)
		return tx.SaveAccount(ctx, acct)
	})
}

// ListOpen returns the queue with dense indices and the progress of the
// active entry. Queued entries report 0%.
func (s *Service) ListOpen(ctx context.Context, settlementID int64, st types.SubjectType) ([]types.QueueEntry, error) {
	entries, err := s.store.ListQueue(ctx, settlementID, st)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range entries {
		entries[i].QueueIndex = i
		entries[i].Status = types.QueueQueued
		entries[i].CompletionPercentage = 0
		if i == 0 {
			entries[i].Status = types.QueueActive
			entries[i].CompletionPercentage = Percentage(entries[i].StartTime, entries[i].EndTime, now)
		}
	}
	return entries, nil
}

// ListAll returns ListOpen for every subject type.
func (s *Service) ListAll(ctx context.Context, settlementID int64) (map[types.SubjectType][]types.QueueEntry, error) {
	out := make(map[types.SubjectType][]types.QueueEntry, 3)
	for _, st := range types.AllSubjectTypes() {
		entries, err := s.ListOpen(ctx, settlementID, st)
		if err != nil {
			return nil, err
		}
		out[st] = entries
	}
	return out, nil
}

// Percentage is (now-start)/(end-start) as a percentage clamped to [0, 100].
func Percentage(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		if now.Before(end) {
			return 0
		}
		return 100
	}
	p := float64(now.Sub(start)) / float64(total) * 100
	return min(100, max(0, p))
}

// CompleteDue applies the effect of every entry whose end time has passed
// and deletes it, one transaction per entry. It returns how many entries
// were applied.
func (s *Service) CompleteDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.store.DueQueueEntries(ctx, now, completeBatch)
	if err != nil {
		return 0, err
	}
	return s.completeAll(ctx, due, now)
}

// CompleteDueFor is CompleteDue restricted to one settlement, so a read
// right after an end time does not wait for the next game tick.
func (s *Service) CompleteDueFor(ctx context.Context, settlementID int64) (int, error) {
	now := s.now().UTC()
	due, err := s.store.DueQueueEntriesFor(ctx, settlementID, now)
	if err != nil {
		return 0, err
	}
	return s.completeAll(ctx, due, now)
}

func (s *Service) completeAll(ctx context.Context, due []types.QueueEntry, now time.Time) (int, error) {
	done := 0
	for _, e := range due {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		err := s.store.WithTx(ctx, func(tx *store.Tx) error { return s.complete(ctx, tx, e.ID, now) })
		switch {
		case err == nil:
			done++
		case errors.Is(err, core.ErrNotFound):
			// cancelled or completed by a concurrent pass
		default:
			return done, fmt.Errorf("complete entry %d: %w", e.ID, err)
		}
	}
	return done, nil
}

func (s *Service) complete(ctx context.Context, tx *store.Tx, id int64, now time.Time) error {
	e, err := tx.QueueEntry(ctx, id)
	if err != nil {
		return err
	}
	switch e.SubjectType {
	case types.SubjectBuilding:
		// production up to the end time accrues at the old level
		acct, err := tx.Account(ctx, e.SettlementID)
		if err != nil {
			return err
		}
		if e.EndTime.Before(now) {
			acct.Materialize(e.EndTime)
		} else {
			acct.Materialize(now)
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		levels, err := tx.Buildings(ctx, e.SettlementID)
		if err != nil {
			return err
		}
		if err := tx.SetBuildingLevel(ctx, e.SettlementID, e.SubjectKey, max(levels[e.SubjectKey], e.Target)); err != nil {
			return err
		}
	case types.SubjectResearch:
		levels, err := tx.Research(ctx, e.SettlementID)
		if err != nil {
			return err
		}
		if err := tx.SetResearchLevel(ctx, e.SettlementID, e.SubjectKey, max(levels[e.SubjectKey], e.Target)); err != nil {
			return err
		}
	case types.SubjectMilitaryUnit:
		if err := tx.AddUnits(ctx, e.SettlementID, map[string]int{e.SubjectKey: e.Target}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown subject type %q", e.SubjectType)
	}
	if err := tx.DeleteQueueEntry(ctx, id); err != nil {
		return err
	}
	s.log.Printf("settlement %d completed %s %s -> %d", e.SettlementID, e.SubjectType, e.SubjectKey, e.Target)
	return nil
}
