// Package sweep resolves travel orders whose arrival time has passed. Each
// order is settled in its own transaction that starts by flipping the status
// away from traveling, so an order takes effect at most once no matter how
// many sweeps race over it.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/store"
	"ownrealm/pkg/types"
)

const batchSize = 500

// Report counts what one Run did.
type Report struct {
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type Service struct {
	store *store.Store
	now   func() time.Time
	log   *log.Logger

	mu  sync.Mutex // guards rng
	rng game.RandomFactor
}

// New returns a sweep service. A nil rng is seeded from the clock.
func New(st *store.Store, now func() time.Time, rng game.RandomFactor, logger *log.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{store: st, now: now, rng: rng, log: logger}
}

// Run resolves every due order. Failed orders stay traveling and are retried
// by the next run.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var rep Report
	ids, err := s.store.DueTravelOrders(ctx, s.now().UTC(), batchSize)
	if err != nil {
		return rep, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		err := s.Resolve(ctx, id)
		switch {
		case err == nil:
			rep.Resolved++
		case errors.Is(err, core.ErrConflict):
			rep.Skipped++
		default:
			rep.Failed++
			s.log.Printf("order %d left traveling: %v", id, err)
		}
	}
	return rep, nil
}

// Resolve settles one order. An order that is no longer traveling yields
// core.ErrConflict and changes nothing.
func (s *Service) Resolve(ctx context.Context, orderID int64) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		order, err := tx.TravelOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != types.TravelTraveling {
			return fmt.Errorf("travel order %d is %s: %w", orderID, order.Status, core.ErrConflict)
		}
		now := s.now().UTC()
		if order.ArrivalTime.After(now) {
			return core.Invalid("travel order %d arrives at %s", orderID, order.ArrivalTime.Format(time.RFC3339))
		}
		switch order.Kind {
		case types.TravelArmy:
			if err := tx.FinishTravelOrder(ctx, orderID, types.TravelArrived); err != nil {
				return err
			}
			return s.battle(ctx, tx, order, now)
		case types.TravelTrade:
			if err := tx.FinishTravelOrder(ctx, orderID, types.TravelCompleted); err != nil {
				return err
			}
			return s.deliver(ctx, tx, order, now)
		}
		return fmt.Errorf("travel order %d has unknown kind %q", orderID, order.Kind)
	})
}

func (s *Service) battle(ctx context.Context, tx *store.Tx, order types.TravelOrder, now time.Time) error {
	if err := tx.LockSettlements(ctx, order.OriginID, order.DestinationID); err != nil {
		return err
	}
	attacker, err := tx.Account(ctx, order.OriginID)
	if err != nil {
		return err
	}
	defender, err := tx.Account(ctx, order.DestinationID)
	if err != nil {
		return err
	}
	garrison, err := tx.Units(ctx, order.DestinationID)
	if err != nil {
		return err
	}
	attacker.Materialize(now)
	defender.Materialize(now)

	in := game.BattleInput{
		AttackerUnits:     order.Payload.Units,
		DefenderUnits:     garrison,
		AttackerPower:     game.PowerOf(order.Payload.Units),
		DefenderPower:     game.PowerOf(garrison),
		DefenderResources: defender.Stock.Whole(),
	}
	s.mu.Lock()
	out := game.ResolveBattle(in, s.rng)
	s.mu.Unlock()

	defenderDelta := make(map[string]int, len(out.DefenderLosses))
	for key, n := range out.DefenderLosses {
		defenderDelta[key] = -n
	}
	if err := tx.AddUnits(ctx, order.DestinationID, defenderDelta); err != nil {
		return err
	}
	// survivors go straight back into the origin garrison
	if err := tx.AddUnits(ctx, order.OriginID, game.Survivors(order.Payload.Units, out.AttackerLosses)); err != nil {
		return err
	}

	attacker.SettlersUsed = max(0, attacker.SettlersUsed-game.SettlersFor(out.AttackerLosses))
	defender.SettlersUsed = max(0, defender.SettlersUsed-game.SettlersFor(out.DefenderLosses))
	defender.Stock = defender.Stock.Sub(out.Plundered)
	attacker.Stock = attacker.Stock.AddClamped(out.Plundered, attacker.Capacity)
	if err := tx.SaveAccount(ctx, attacker); err != nil {
		return err
	}
	if err := tx.SaveAccount(ctx, defender); err != nil {
		return err
	}

	rec := types.BattleRecord{
		TravelOrderID:    order.ID,
		AttackerID:       order.OriginID,
		DefenderID:       order.DestinationID,
		AttackerPower:    in.AttackerPower,
		DefenderPower:    in.DefenderPower,
		RandomFactor:     out.RandomFactor,
		Winner:           out.Winner,
		AttackerLossRate: out.AttackerLossRate,
		DefenderLossRate: out.DefenderLossRate,
		AttackerLosses:   out.AttackerLosses,
		DefenderLosses:   out.DefenderLosses,
		Plundered:        out.Plundered,
		CreatedAt:        now,
	}
	rec.Digest = game.Digest(rec)
	if err := tx.InsertBattleRecord(ctx, &rec); err != nil {
		return err
	}
	s.log.Printf("battle %d: %d vs %d, %s wins (%.2f vs %.2f)", rec.ID, rec.AttackerID, rec.DefenderID,
		rec.Winner, out.AttackerEffective, out.DefenderEffective)
	return nil
}

func (s *Service) deliver(ctx context.Context, tx *store.Tx, order types.TravelOrder, now time.Time) error {
	if err := tx.LockSettlements(ctx, order.OriginID, order.DestinationID); err != nil {
		return err
	}
	seller, err := tx.Account(ctx, order.OriginID)
	if err != nil {
		return err
	}
	buyer, err := tx.Account(ctx, order.DestinationID)
	if err != nil {
		return err
	}
	buyer.Materialize(now)
	buyer.Stock = buyer.Stock.AddClamped(order.Payload.Resources, buyer.Capacity)
	seller.Gold += order.Payload.Gold
	if err := tx.SaveAccount(ctx, seller); err != nil {
		return err
	}
	if err := tx.SaveAccount(ctx, buyer); err != nil {
		return err
	}
	rec := types.TradeRecord{
		TravelOrderID: order.ID,
		OfferID:       order.Payload.OfferID,
		SellerID:      order.OriginID,
		BuyerID:       order.DestinationID,
		Resources:     order.Payload.Resources,
		Gold:          order.Payload.Gold,
		CreatedAt:     now,
	}
	if err := tx.InsertTradeRecord(ctx, &rec); err != nil {
		return err
	}
	s.log.Printf("trade %d delivered to %d", order.ID, order.DestinationID)
	return nil
}
