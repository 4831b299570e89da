package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ownrealm/pkg/core"
	"ownrealm/pkg/types"
)

// --- Battles ---

// InsertBattleRecord appends a record. The full record is stored as JSON so
// the digest can be re-verified from the row alone.
func (t *Tx) InsertBattleRecord(ctx context.Context, rec *types.BattleRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO battle_records (travel_order_id, attacker_id, defender_id, winner, record, digest, created_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TravelOrderID, rec.AttackerID, rec.DefenderID, rec.Winner, string(body), rec.Digest, ms(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert battle record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// ListBattles returns the newest battles a settlement took part in.
func (s *Store) ListBattles(ctx context.Context, settlementID int64, limit int) ([]types.BattleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record FROM battle_records WHERE attacker_id = ? OR defender_id = ? ORDER BY id DESC LIMIT ?`,
		settlementID, settlementID, limit)
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	defer rows.Close()
	var out []types.BattleRecord
	for rows.Next() {
		var id int64
		var body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var rec types.BattleRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode battle %d: %w", id, err)
		}
		rec.ID = id
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Trade history ---

func (t *Tx) InsertTradeRecord(ctx context.Context, rec *types.TradeRecord) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO trade_records (travel_order_id, offer_id, seller_id, buyer_id, wood, stone, ore, gold, created_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TravelOrderID, rec.OfferID, rec.SellerID, rec.BuyerID,
		rec.Resources.Wood, rec.Resources.Stone, rec.Resources.Ore, rec.Gold, ms(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListTrades(ctx context.Context, settlementID int64, limit int) ([]types.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, travel_order_id, offer_id, seller_id, buyer_id, wood, stone, ore, gold, created_ms
		 FROM trade_records WHERE seller_id = ? OR buyer_id = ? ORDER BY id DESC LIMIT ?`,
		settlementID, settlementID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()
	var out []types.TradeRecord
	for rows.Next() {
		var r types.TradeRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.TravelOrderID, &r.OfferID, &r.SellerID, &r.BuyerID,
			&r.Resources.Wood, &r.Resources.Stone, &r.Resources.Ore, &r.Gold, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMS(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Offers ---

const offerColumns = `id, seller_id, buyer_id, wood, stone, ore, price, status, created_ms`

func scanOffer(sc interface{ Scan(...any) error }) (types.TradeOffer, error) {
	var o types.TradeOffer
	var created int64
	err := sc.Scan(&o.ID, &o.SellerID, &o.BuyerID, &o.Resources.Wood, &o.Resources.Stone, &o.Resources.Ore,
		&o.Price, &o.Status, &created)
	o.CreatedAt = fromMS(created)
	return o, err
}

func (t *Tx) InsertOffer(ctx context.Context, o *types.TradeOffer) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO trade_offers (seller_id, buyer_id, wood, stone, ore, price, status, created_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SellerID, o.BuyerID, o.Resources.Wood, o.Resources.Stone, o.Resources.Ore, o.Price, o.Status, ms(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) Offer(ctx context.Context, id int64) (types.TradeOffer, error) {
	o, err := scanOffer(t.tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM trade_offers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return o, notFound("offer", id)
	}
	return o, err
}

// CloseOffer moves an open offer to status. An offer that is no longer open
// yields core.ErrConflict.
func (t *Tx) CloseOffer(ctx context.Context, id int64, status types.OfferStatus, buyerID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE trade_offers SET status = ?, buyer_id = ? WHERE id = ? AND status = ?`,
		status, buyerID, id, types.OfferOpen)
	if err != nil {
		return fmt.Errorf("close offer %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("offer %d: %w", id, core.ErrConflict)
	}
	return nil
}

// ListOffers returns offers with the given status, newest first. An empty
// status lists all of them.
func (s *Store) ListOffers(ctx context.Context, status types.OfferStatus) ([]types.TradeOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM trade_offers`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()
	var out []types.TradeOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
