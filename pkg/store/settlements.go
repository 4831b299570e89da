package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/types"
)

// CreateSettlement inserts a settlement with the starting buildings and stock.
func (s *Store) CreateSettlement(ctx context.Context, name string, x, y int, now time.Time) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, core.Invalid("settlement name is required")
	}
	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var taken int
		if err := tx.tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM settlements WHERE x = ? AND y = ?`, x, y).Scan(&taken); err != nil {
			return err
		}
		if taken > 0 {
			return core.Invalid("position %d/%d is taken", x, y)
		}
		res, err := tx.tx.ExecContext(ctx,
			`INSERT INTO settlements (name, x, y, wood, stone, ore, gold, resources_updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			name, x, y, game.StartingResources.Wood, game.StartingResources.Stone, game.StartingResources.Ore,
			game.StartingGold, ms(now))
		if err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, key := range game.BuildingKeys() {
			if lvl := game.StartingBuildings[key]; lvl > 0 {
				if err := tx.SetBuildingLevel(ctx, id, key, lvl); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return id, err
}

// DeleteSettlement removes a settlement with its queues, garrison and any
// orders still travelling to or from it. Buyers waiting on a shipment from
// it get their escrowed gold back and armies marching on it return home.
func (s *Store) DeleteSettlement(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.unwindOrdersAround(ctx, id); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM travel_orders WHERE status = ? AND (origin_id = ? OR destination_id = ?)`,
			types.TravelTraveling, id, id); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE trade_offers SET status = ? WHERE seller_id = ? AND status = ?`,
			types.OfferCancelled, id, types.OfferOpen); err != nil {
			return err
		}
		res, err := tx.tx.ExecContext(ctx, `DELETE FROM settlements WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("settlement", id)
		}
		return nil
	})
}

func (t *Tx) unwindOrdersAround(ctx context.Context, id int64) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+travelColumns+` FROM travel_orders WHERE status = ? AND (origin_id = ? OR destination_id = ?) ORDER BY id`,
		types.TravelTraveling, id, id)
	if err != nil {
		return fmt.Errorf("orders around %d: %w", id, err)
	}
	var orders []types.TravelOrder
	for rows.Next() {
		o, err := scanTravelOrder(rows)
		if err != nil {
			rows.Close()
			return err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, o := range orders {
		switch {
		case o.Kind == types.TravelTrade && o.OriginID == id && o.DestinationID != id && o.Payload.Gold > 0:
			buyer, err := t.Account(ctx, o.DestinationID)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			buyer.Gold += o.Payload.Gold
			if err := t.SaveAccount(ctx, buyer); err != nil {
				return err
			}
		case o.Kind == types.TravelArmy && o.DestinationID == id && o.OriginID != id:
			if err := t.AddUnits(ctx, o.OriginID, o.Payload.Units); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListSettlements returns id, name and position of every settlement.
func (s *Store) ListSettlements(ctx context.Context) ([]types.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, x, y FROM settlements ORDER BY id`)
	if err != nil {
		return nil, core.Transient(err)
	}
	defer rows.Close()
	var out []types.Settlement
	for rows.Next() {
		var st types.Settlement
		if err := rows.Scan(&st.ID, &st.Name, &st.X, &st.Y); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Settlement loads one settlement with levels, garrison and resources at now.
func (s *Store) Settlement(ctx context.Context, id int64, now time.Time) (types.Settlement, error) {
	st, err := loadSettlement(ctx, s.db, id)
	if err != nil {
		return st, err
	}
	a, err := loadAccount(ctx, s.db, id)
	if err != nil {
		return st, err
	}
	a.Materialize(now)
	st.Resources = a.State()
	return st, nil
}

// Settlement loads position and levels inside a transaction.
func (t *Tx) Settlement(ctx context.Context, id int64) (types.Settlement, error) {
	return loadSettlement(ctx, t.tx, id)
}

func loadSettlement(ctx context.Context, q querier, id int64) (types.Settlement, error) {
	st := types.Settlement{ID: id}
	err := q.QueryRowContext(ctx, `SELECT name, x, y FROM settlements WHERE id = ?`, id).Scan(&st.Name, &st.X, &st.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return st, notFound("settlement", id)
	}
	if err != nil {
		return st, fmt.Errorf("load settlement %d: %w", id, err)
	}
	if st.Buildings, err = loadLevels(ctx, q, "buildings", "level", id); err != nil {
		return st, err
	}
	if st.Units, err = loadLevels(ctx, q, "units", "count", id); err != nil {
		return st, err
	}
	if st.Research, err = loadLevels(ctx, q, "research", "level", id); err != nil {
		return st, err
	}
	return st, nil
}

// LockSettlements touches the given settlement rows in ascending id order.
// Every cross-settlement transaction goes through here first.
func (t *Tx) LockSettlements(ctx context.Context, ids ...int64) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var last int64
	for i, id := range sorted {
		if i > 0 && id == last {
			continue
		}
		last = id
		res, err := t.tx.ExecContext(ctx, `UPDATE settlements SET version = version + 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("lock settlement %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("settlement", id)
		}
	}
	return nil
}

// --- Levels and garrison ---

// table and column are fixed identifiers from this package, never user input.
func loadLevels(ctx context.Context, q querier, table, column string, id int64) (map[string]int, error) {
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT key, %s FROM %s WHERE settlement_id = ?`, column, table), id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var key string
		var v int
		if err := rows.Scan(&key, &v); err != nil {
			return nil, err
		}
		if v != 0 {
			out[key] = v
		}
	}
	return out, rows.Err()
}

func (t *Tx) Buildings(ctx context.Context, id int64) (map[string]int, error) {
	return loadLevels(ctx, t.tx, "buildings", "level", id)
}

func (t *Tx) Research(ctx context.Context, id int64) (map[string]int, error) {
	return loadLevels(ctx, t.tx, "research", "level", id)
}

func (t *Tx) Units(ctx context.Context, id int64) (map[string]int, error) {
	return loadLevels(ctx, t.tx, "units", "count", id)
}

func (t *Tx) SetBuildingLevel(ctx context.Context, id int64, key string, level int) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO buildings (settlement_id, key, level) VALUES (?, ?, ?)
		 ON CONFLICT(settlement_id, key) DO UPDATE SET level = excluded.level`, id, key, level)
	return err
}

func (t *Tx) SetResearchLevel(ctx context.Context, id int64, key string, level int) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO research (settlement_id, key, level) VALUES (?, ?, ?)
		 ON CONFLICT(settlement_id, key) DO UPDATE SET level = excluded.level`, id, key, level)
	return err
}

// AddUnits applies signed deltas to the garrison. A delta that would drive a
// count below zero fails the call.
func (t *Tx) AddUnits(ctx context.Context, id int64, delta map[string]int) error {
	for key, d := range delta {
		if d == 0 {
			continue
		}
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO units (settlement_id, key, count) VALUES (?, ?, ?)
			 ON CONFLICT(settlement_id, key) DO UPDATE SET count = count + excluded.count`, id, key, d); err != nil {
			return fmt.Errorf("add units: %w", err)
		}
		var n int
		if err := t.tx.QueryRowContext(ctx,
			`SELECT count FROM units WHERE settlement_id = ? AND key = ?`, id, key).Scan(&n); err != nil {
			return err
		}
		if n < 0 {
			return core.Invalid("not enough %s in settlement %d", key, id)
		}
	}
	return nil
}
