// Package travel schedules armies and trade shipments between settlements.
package travel

import (
	"context"
	"io"
	"log"
	"time"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/store"
	"ownrealm/pkg/types"
)

// DefaultTradeSpeed is the merchant speed in seconds per field.
const DefaultTradeSpeed = 600

type Service struct {
	store      *store.Store
	now        func() time.Time
	log        *log.Logger
	tradeSpeed int
}

func New(st *store.Store, now func() time.Time, tradeSpeed int, logger *log.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if tradeSpeed < game.MinArmySpeed {
		tradeSpeed = DefaultTradeSpeed
	}
	return &Service{store: st, now: now, log: logger, tradeSpeed: tradeSpeed}
}

// DispatchAttack sends units from origin to target. The units leave the
// origin garrison in the same transaction that records the order.
func (s *Service) DispatchAttack(ctx context.Context, originID, targetID int64, units map[string]int) (types.TravelOrder, error) {
	if originID == targetID {
		return types.TravelOrder{}, core.Invalid("a settlement cannot attack itself")
	}
	speed, err := game.ArmySpeed(units)
	if err != nil {
		return types.TravelOrder{}, err
	}
	sent := make(map[string]int, len(units))
	removed := make(map[string]int, len(units))
	for key, n := range units {
		if n > 0 {
			sent[key] = n
			removed[key] = -n
		}
	}

	var order types.TravelOrder
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockSettlements(ctx, originID, targetID); err != nil {
			return err
		}
		origin, err := tx.Settlement(ctx, originID)
		if err != nil {
			return err
		}
		target, err := tx.Settlement(ctx, targetID)
		if err != nil {
			return err
		}
		for key, n := range sent {
			if origin.Units[key] < n {
				return core.Invalid("settlement %d has %d %s, cannot send %d", originID, origin.Units[key], key, n)
			}
		}
		now := s.now().UTC()
		distance := game.Distance(origin.X, origin.Y, target.X, target.Y)
		order = types.TravelOrder{
			Kind:          types.TravelArmy,
			OriginID:      originID,
			DestinationID: targetID,
			Payload:       types.Payload{Units: sent},
			Distance:      distance,
			Speed:         speed,
			DepartTime:    now,
			ArrivalTime:   game.ArrivalTime(now, distance, speed),
			Status:        types.TravelTraveling,
		}
		if err := tx.InsertTravelOrder(ctx, &order); err != nil {
			return err
		}
		return tx.AddUnits(ctx, originID, removed)
	})
	if err == nil {
		s.log.Printf("army %d: %d -> %d, arrives %s", order.ID, originID, targetID, order.ArrivalTime.Format(time.RFC3339))
	}
	return order, err
}

// CreateOffer escrows the offered goods from the seller and opens an offer.
func (s *Service) CreateOffer(ctx context.Context, sellerID int64, goods types.Resources, price int) (types.TradeOffer, error) {
	if goods.AnyNegative() || goods.IsZero() {
		return types.TradeOffer{}, core.Invalid("an offer needs a positive amount of goods")
	}
	if price < 0 {
		return types.TradeOffer{}, core.Invalid("price must not be negative")
	}
	var offer types.TradeOffer
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		now := s.now().UTC()
		acct, err := tx.Account(ctx, sellerID)
		if err != nil {
			return err
		}
		acct.Materialize(now)
		if !acct.Spend(types.Cost{Resources: goods}) {
			return core.Invalid("settlement %d cannot cover the offered goods", sellerID)
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		offer = types.TradeOffer{SellerID: sellerID, Resources: goods, Price: price, Status: types.OfferOpen, CreatedAt: now}
		return tx.InsertOffer(ctx, &offer)
	})
	return offer, err
}

// CancelOffer closes an open offer and returns the escrowed goods, clamped
// to the seller's storage.
func (s *Service) CancelOffer(ctx context.Context, offerID int64) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		offer, err := tx.Offer(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.Status != types.OfferOpen {
			return core.Invalid("offer %d is %s", offerID, offer.Status)
		}
		if err := tx.CloseOffer(ctx, offerID, types.OfferCancelled, 0); err != nil {
			return err
		}
		acct, err := tx.Account(ctx, offer.SellerID)
		if err != nil {
			return err
		}
		acct.Materialize(s.now().UTC())
		acct.Stock = acct.Stock.AddClamped(offer.Resources, acct.Capacity)
		return tx.SaveAccount(ctx, acct)
	})
}

// AcceptOffer takes the buyer's gold into escrow and ships the goods from
// seller to buyer. Payment reaches the seller when the shipment arrives.
func (s *Service) AcceptOffer(ctx context.Context, offerID, buyerID int64) (types.TravelOrder, error) {
	var order types.TravelOrder
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		offer, err := tx.Offer(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.Status != types.OfferOpen {
			return core.Invalid("offer %d is %s", offerID, offer.Status)
		}
		if offer.SellerID == buyerID {
			return core.Invalid("a settlement cannot accept its own offer")
		}
		if err := tx.LockSettlements(ctx, offer.SellerID, buyerID); err != nil {
			return err
		}
		now := s.now().UTC()
		buyer, err := tx.Account(ctx, buyerID)
		if err != nil {
			return err
		}
		if buyer.Gold < offer.Price {
			return core.Invalid("settlement %d has %d gold, offer costs %d", buyerID, buyer.Gold, offer.Price)
		}
		buyer.Materialize(now)
		buyer.Gold -= offer.Price
		if err := tx.SaveAccount(ctx, buyer); err != nil {
			return err
		}
		if err := tx.CloseOffer(ctx, offerID, types.OfferAccepted, buyerID); err != nil {
			return err
		}
		from, err := tx.Settlement(ctx, offer.SellerID)
		if err != nil {
			return err
		}
		to, err := tx.Settlement(ctx, buyerID)
		if err != nil {
			return err
		}
		distance := game.Distance(from.X, from.Y, to.X, to.Y)
		order = types.TravelOrder{
			Kind:          types.TravelTrade,
			OriginID:      offer.SellerID,
			DestinationID: buyerID,
			Payload:       types.Payload{Resources: offer.Resources, Gold: offer.Price, OfferID: offer.ID},
			Distance:      distance,
			Speed:         s.tradeSpeed,
			DepartTime:    now,
			ArrivalTime:   game.ArrivalTime(now, distance, s.tradeSpeed),
			Status:        types.TravelTraveling,
		}
		return tx.InsertTravelOrder(ctx, &order)
	})
	if err == nil {
		s.log.Printf("trade %d: offer %d shipped %d -> %d", order.ID, offerID, order.OriginID, buyerID)
	}
	return order, err
}

func (s *Service) ListOffers(ctx context.Context, status types.OfferStatus) ([]types.TradeOffer, error) {
	return s.store.ListOffers(ctx, status)
}

// ListTraveling lists orders in flight from or to a settlement, soonest first.
func (s *Service) ListTraveling(ctx context.Context, settlementID int64) ([]types.TravelOrder, error) {
	return s.store.ListTraveling(ctx, settlementID)
}
