package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ownrealm/pkg/core"
	"ownrealm/pkg/types"
)

const travelColumns = `id, kind, origin_id, destination_id, payload, distance, speed, depart_ms, arrival_ms, status`

func scanTravelOrder(sc interface{ Scan(...any) error }) (types.TravelOrder, error) {
	var o types.TravelOrder
	var payload string
	var depart, arrival int64
	if err := sc.Scan(&o.ID, &o.Kind, &o.OriginID, &o.DestinationID, &payload, &o.Distance, &o.Speed,
		&depart, &arrival, &o.Status); err != nil {
		return o, err
	}
	o.DepartTime, o.ArrivalTime = fromMS(depart), fromMS(arrival)
	if err := json.Unmarshal([]byte(payload), &o.Payload); err != nil {
		return o, fmt.Errorf("decode payload of order %d: %w", o.ID, err)
	}
	return o, nil
}

func (t *Tx) InsertTravelOrder(ctx context.Context, o *types.TravelOrder) error {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO travel_orders (kind, origin_id, destination_id, payload, distance, speed, depart_ms, arrival_ms, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Kind, o.OriginID, o.DestinationID, string(payload), o.Distance, o.Speed, ms(o.DepartTime), ms(o.ArrivalTime), o.Status)
	if err != nil {
		return fmt.Errorf("insert travel order: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) TravelOrder(ctx context.Context, id int64) (types.TravelOrder, error) {
	o, err := scanTravelOrder(t.tx.QueryRowContext(ctx, `SELECT `+travelColumns+` FROM travel_orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return o, notFound("travel order", id)
	}
	return o, err
}

// FinishTravelOrder flips a traveling order to its terminal status. Zero rows
// affected means another sweep got there first and yields core.ErrConflict.
func (t *Tx) FinishTravelOrder(ctx context.Context, id int64, to types.TravelStatus) error {
	if !to.Terminal() {
		return fmt.Errorf("finish travel order %d: %q is not terminal", id, to)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE travel_orders SET status = ? WHERE id = ? AND status = ?`, to, id, types.TravelTraveling)
	if err != nil {
		return fmt.Errorf("finish travel order %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("travel order %d: %w", id, core.ErrConflict)
	}
	return nil
}

// DueTravelOrders lists ids of traveling orders with arrival <= now.
func (s *Store) DueTravelOrders(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM travel_orders WHERE status = ? AND arrival_ms <= ? ORDER BY arrival_ms, id LIMIT ?`,
		types.TravelTraveling, ms(now), limit)
	if err != nil {
		return nil, fmt.Errorf("due travel orders: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTraveling lists orders in flight from or to a settlement by arrival.
func (s *Store) ListTraveling(ctx context.Context, settlementID int64) ([]types.TravelOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+travelColumns+` FROM travel_orders
		 WHERE status = ? AND (origin_id = ? OR destination_id = ?) ORDER BY arrival_ms, id`,
		types.TravelTraveling, settlementID, settlementID)
	if err != nil {
		return nil, fmt.Errorf("list traveling: %w", err)
	}
	defer rows.Close()
	var out []types.TravelOrder
	for rows.Next() {
		o, err := scanTravelOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TravelOrder reads one order outside a transaction.
func (s *Store) TravelOrder(ctx context.Context, id int64) (types.TravelOrder, error) {
	o, err := scanTravelOrder(s.db.QueryRowContext(ctx, `SELECT `+travelColumns+` FROM travel_orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return o, notFound("travel order", id)
	}
	return o, err
}
