package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ownrealm/pkg/game"
	"ownrealm/pkg/types"
)

// Account is the resource row of one settlement with the limits derived from
// its building and research levels.
type Account struct {
	SettlementID int64
	Stock        game.Stock
	Gold         int
	SettlersUsed int
	UpdatedAt    time.Time
	Capacity     int
	MaxSettlers  int
	Rates        types.Rates
}

// Materialize folds regeneration up to now into Stock. A clock behind
// UpdatedAt only re-clamps.
func (a *Account) Materialize(now time.Time) {
	if !now.After(a.UpdatedAt) {
		a.Stock = a.Stock.Project(a.Capacity, a.Rates, 0)
		return
	}
	a.Stock = a.Stock.Project(a.Capacity, a.Rates, now.Sub(a.UpdatedAt))
	a.UpdatedAt = now
}

func (a *Account) FreeSettlers() int {
	if free := a.MaxSettlers - a.SettlersUsed; free > 0 {
		return free
	}
	return 0
}

// Spend checks and debits cost. Nothing changes when it fails.
func (a *Account) Spend(cost types.Cost) bool {
	have := a.Stock.Whole()
	if !have.Covers(cost.Resources) || a.FreeSettlers() < cost.Settlers {
		return false
	}
	a.Stock = a.Stock.Sub(cost.Resources)
	a.SettlersUsed += cost.Settlers
	return true
}

func (a *Account) State() types.ResourceState {
	st := types.ResourceState{
		SettlementID:    a.SettlementID,
		Gold:            a.Gold,
		StorageCapacity: a.Capacity,
		FreeSettlers:    a.FreeSettlers(),
		MaxSettlers:     a.MaxSettlers,
		Rates:           a.Rates,
		UpdatedAt:       a.UpdatedAt,
	}
	st.SetAmounts(a.Stock.Whole())
	return st
}

func loadAccount(ctx context.Context, q querier, id int64) (*Account, error) {
	a := &Account{SettlementID: id}
	var updated int64
	err := q.QueryRowContext(ctx,
		`SELECT wood, stone, ore, gold, settlers_used, resources_updated_at FROM settlements WHERE id = ?`, id,
	).Scan(&a.Stock.Wood, &a.Stock.Stone, &a.Stock.Ore, &a.Gold, &a.SettlersUsed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("settlement", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", id, err)
	}
	a.UpdatedAt = fromMS(updated)

	buildings, err := loadLevels(ctx, q, "buildings", "level", id)
	if err != nil {
		return nil, err
	}
	research, err := loadLevels(ctx, q, "research", "level", id)
	if err != nil {
		return nil, err
	}
	a.Capacity = game.Capacity(buildings[game.Storehouse])
	a.MaxSettlers = game.MaxSettlers(buildings[game.Farm], research[game.CropRotation])
	a.Rates = game.RatesFor(buildings)
	return a, nil
}

// Account reads the resource row for update.
func (t *Tx) Account(ctx context.Context, id int64) (*Account, error) {
	return loadAccount(ctx, t.tx, id)
}

func (t *Tx) SaveAccount(ctx context.Context, a *Account) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE settlements SET wood = ?, stone = ?, ore = ?, gold = ?, settlers_used = ?, resources_updated_at = ? WHERE id = ?`,
		a.Stock.Wood, a.Stock.Stone, a.Stock.Ore, a.Gold, a.SettlersUsed, ms(a.UpdatedAt), a.SettlementID)
	if err != nil {
		return fmt.Errorf("save account %d: %w", a.SettlementID, err)
	}
	return nil
}

// Resources projects the stored snapshot to now without writing it back.
func (s *Store) Resources(ctx context.Context, id int64, now time.Time) (types.ResourceState, error) {
	a, err := loadAccount(ctx, s.db, id)
	if err != nil {
		return types.ResourceState{}, err
	}
	a.Materialize(now)
	return a.State(), nil
}
