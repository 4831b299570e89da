package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	mattn "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/types"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverPure, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	s, err := Open(context.Background(), DriverPure, path, nil)
	require.NoError(t, err)
	id := s.WorldID()
	require.Len(t, id, 64)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), DriverPure, path, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, id, s.WorldID())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", filepath.Join(t.TempDir(), "x.db"), nil)
	assert.Error(t, err)
}

func TestCreateSettlement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSettlement(ctx, "Ashford", 3, 4, epoch)
	require.NoError(t, err)

	st, err := s.Settlement(ctx, id, epoch)
	require.NoError(t, err)
	assert.Equal(t, "Ashford", st.Name)
	assert.Equal(t, 1, st.Buildings[game.Lumberjack])
	assert.Equal(t, game.StartingResources, st.Resources.Amounts())
	assert.Equal(t, game.StartingGold, st.Resources.Gold)
	assert.Equal(t, game.Capacity(1), st.Resources.StorageCapacity)

	_, err = s.CreateSettlement(ctx, "Dup", 3, 4, epoch)
	assert.True(t, core.IsValidation(err))
	_, err = s.CreateSettlement(ctx, "  ", 9, 9, epoch)
	assert.True(t, core.IsValidation(err))

	list, err := s.ListSettlements(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResourcesRegenerateOnRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.CreateSettlement(ctx, "Ashford", 0, 0, epoch)
	require.NoError(t, err)

	rate := game.ProductionPerHour(1)
	later := epoch.Add(time.Hour)
	res, err := s.Resources(ctx, id, later)
	require.NoError(t, err)
	assert.Equal(t, game.StartingResources.Wood+int(rate), res.Wood)

	// far future clamps to capacity
	res, err = s.Resources(ctx, id, epoch.Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, res.StorageCapacity, res.Wood)

	_, err = s.Resources(ctx, 999, later)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.CreateSettlement(ctx, "Ashford", 0, 0, epoch)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx *Tx) error {
		a, err := tx.Account(ctx, id)
		if err != nil {
			return err
		}
		a.Gold = 0
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	res, err := s.Resources(ctx, id, epoch)
	require.NoError(t, err)
	assert.Equal(t, game.StartingGold, res.Gold)
}

func TestLockSettlements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.CreateSettlement(ctx, "A", 0, 0, epoch)
	b, _ := s.CreateSettlement(ctx, "B", 1, 0, epoch)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.LockSettlements(ctx, b, a, b) }))
	err := s.WithTx(ctx, func(tx *Tx) error { return tx.LockSettlements(ctx, a, 42) })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAddUnitsRejectsNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateSettlement(ctx, "A", 0, 0, epoch)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.AddUnits(ctx, id, map[string]int{game.Spearman: 5})
	}))
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.AddUnits(ctx, id, map[string]int{game.Spearman: -6})
	})
	assert.True(t, core.IsValidation(err))

	st, err := s.Settlement(ctx, id, epoch)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Units[game.Spearman])
}

func TestQueueRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateSettlement(ctx, "A", 0, 0, epoch)

	var first types.QueueEntry
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		tail, err := tx.QueueTail(ctx, id, types.SubjectBuilding)
		require.NoError(t, err)
		require.Nil(t, tail)
		first = types.QueueEntry{SettlementID: id, SubjectType: types.SubjectBuilding, SubjectKey: game.Quarry,
			Target: 2, StartTime: epoch, EndTime: epoch.Add(time.Minute)}
		return tx.InsertQueueEntry(ctx, &first)
	}))
	require.NotZero(t, first.ID)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		tail, err := tx.QueueTail(ctx, id, types.SubjectBuilding)
		require.NoError(t, err)
		require.NotNil(t, tail)
		assert.Equal(t, first.ID, tail.ID)
		assert.True(t, tail.EndTime.Equal(first.EndTime))
		n, err := tx.QueuedFor(ctx, id, types.SubjectBuilding, game.Quarry)
		assert.Equal(t, 1, n)
		return err
	}))

	due, err := s.DueQueueEntries(ctx, epoch.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.DeleteQueueEntry(ctx, first.ID) }))
	err = s.WithTx(ctx, func(tx *Tx) error { return tx.DeleteQueueEntry(ctx, first.ID) })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFinishTravelOrderOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.CreateSettlement(ctx, "A", 0, 0, epoch)
	b, _ := s.CreateSettlement(ctx, "B", 3, 4, epoch)

	o := types.TravelOrder{Kind: types.TravelArmy, OriginID: a, DestinationID: b,
		Payload: types.Payload{Units: map[string]int{game.Spearman: 3}}, Distance: 5, Speed: 700,
		DepartTime: epoch, ArrivalTime: epoch.Add(time.Hour), Status: types.TravelTraveling}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.InsertTravelOrder(ctx, &o) }))

	ids, err := s.DueTravelOrders(ctx, epoch, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = s.DueTravelOrders(ctx, epoch.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{o.ID}, ids)

	traveling, err := s.ListTraveling(ctx, b)
	require.NoError(t, err)
	require.Len(t, traveling, 1)
	assert.Equal(t, 3, traveling[0].Payload.Units[game.Spearman])

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.FinishTravelOrder(ctx, o.ID, types.TravelArrived) }))
	err = s.WithTx(ctx, func(tx *Tx) error { return tx.FinishTravelOrder(ctx, o.ID, types.TravelArrived) })
	assert.ErrorIs(t, err, core.ErrConflict)
	err = s.WithTx(ctx, func(tx *Tx) error { return tx.FinishTravelOrder(ctx, o.ID, types.TravelTraveling) })
	assert.Error(t, err)

	got, err := s.TravelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TravelArrived, got.Status)
}

func TestOffersAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.CreateSettlement(ctx, "A", 0, 0, epoch)
	b, _ := s.CreateSettlement(ctx, "B", 1, 1, epoch)

	offer := types.TradeOffer{SellerID: a, Resources: types.Resources{Wood: 50}, Price: 10,
		Status: types.OfferOpen, CreatedAt: epoch}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.InsertOffer(ctx, &offer) }))

	open, err := s.ListOffers(ctx, types.OfferOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 50, open[0].Resources.Wood)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.CloseOffer(ctx, offer.ID, types.OfferAccepted, b) }))
	err = s.WithTx(ctx, func(tx *Tx) error { return tx.CloseOffer(ctx, offer.ID, types.OfferCancelled, 0) })
	assert.ErrorIs(t, err, core.ErrConflict)

	rec := types.TradeRecord{TravelOrderID: 7, OfferID: offer.ID, SellerID: a, BuyerID: b,
		Resources: types.Resources{Wood: 50}, Gold: 10, CreatedAt: epoch}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.InsertTradeRecord(ctx, &rec) }))
	trades, err := s.ListTrades(ctx, b, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 10, trades[0].Gold)

	battle := types.BattleRecord{TravelOrderID: 8, AttackerID: a, DefenderID: b, Winner: types.SideAttacker,
		AttackerLosses: map[string]int{game.Spearman: 1}, CreatedAt: epoch}
	battle.Digest = game.Digest(battle)
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error { return tx.InsertBattleRecord(ctx, &battle) }))
	battles, err := s.ListBattles(ctx, a, 10)
	require.NoError(t, err)
	require.Len(t, battles, 1)
	assert.Equal(t, battle.Digest, battles[0].Digest)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Settlements: 2, Battles: 1, Trades: 1}, stats)
}

func TestDeleteSettlement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.CreateSettlement(ctx, "A", 0, 0, epoch)
	require.NoError(t, s.DeleteSettlement(ctx, a))
	assert.ErrorIs(t, s.DeleteSettlement(ctx, a), core.ErrNotFound)
}

func TestDeleteSettlementUnwindsOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seller, _ := s.CreateSettlement(ctx, "Seller", 0, 0, epoch)
	buyer, _ := s.CreateSettlement(ctx, "Buyer", 4, 3, epoch)
	before, err := s.Resources(ctx, buyer, epoch)
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		acct, err := tx.Account(ctx, buyer)
		if err != nil {
			return err
		}
		acct.Gold -= 40
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.AddUnits(ctx, buyer, map[string]int{game.Spearman: 7}); err != nil {
			return err
		}
		trade := types.TravelOrder{
			Kind:          types.TravelTrade,
			OriginID:      seller,
			DestinationID: buyer,
			Payload:       types.Payload{Resources: types.Resources{Wood: 50}, Gold: 40},
			Distance:      5,
			Speed:         600,
			DepartTime:    epoch,
			ArrivalTime:   epoch.Add(time.Hour),
			Status:        types.TravelTraveling,
		}
		if err := tx.InsertTravelOrder(ctx, &trade); err != nil {
			return err
		}
		army := types.TravelOrder{
			Kind:          types.TravelArmy,
			OriginID:      buyer,
			DestinationID: seller,
			Payload:       types.Payload{Units: map[string]int{game.Spearman: 5}},
			Distance:      5,
			Speed:         700,
			DepartTime:    epoch,
			ArrivalTime:   epoch.Add(time.Hour),
			Status:        types.TravelTraveling,
		}
		if err := tx.AddUnits(ctx, buyer, map[string]int{game.Spearman: -5}); err != nil {
			return err
		}
		return tx.InsertTravelOrder(ctx, &army)
	}))

	require.NoError(t, s.DeleteSettlement(ctx, seller))

	after, err := s.Resources(ctx, buyer, epoch)
	require.NoError(t, err)
	assert.Equal(t, before.Gold, after.Gold)
	st, err := s.Settlement(ctx, buyer, epoch)
	require.NoError(t, err)
	assert.Equal(t, 7, st.Units[game.Spearman])
	traveling, err := s.ListTraveling(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, traveling)
}

func TestSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	h, err := s.LastSnapshotHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, h)

	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{Tick: 1, Blob: []byte{1}, Hash: "aa", CreatedAt: epoch}))
	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{Tick: 2, Blob: []byte{2}, Hash: "bb", CreatedAt: epoch}))
	h, err = s.LastSnapshotHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bb", h)
	snaps, err := s.Snapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestVerifySnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := core.ChainHash([]byte("one"), s.WorldID())
	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{Tick: 1, Blob: []byte("one"), Hash: first, CreatedAt: epoch}))
	second := core.ChainHash([]byte("two"), first)
	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{Tick: 2, Blob: []byte("two"), Hash: second, CreatedAt: epoch}))

	n, err := s.VerifySnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{Tick: 3, Blob: []byte("three"), Hash: "forged", CreatedAt: epoch}))
	n, err = s.VerifySnapshots(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, n)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isTransient(fmt.Errorf("save account: %w", mattn.Error{Code: mattn.ErrBusy})))
	assert.True(t, isTransient(mattn.Error{Code: mattn.ErrIoErr, ExtendedCode: mattn.ErrIoErrShortRead}))
	assert.False(t, isTransient(mattn.Error{Code: mattn.ErrConstraint, ExtendedCode: mattn.ErrConstraintUnique}))
	assert.False(t, isTransient(errors.New("no such table")))
	assert.False(t, isTransient(errors.New(`settlement "Fort (5)" not found`)))
	assert.False(t, isTransient(errors.New("UNIQUE constraint failed: battle_records.travel_order_id (2067) after (6) tries")))
	assert.False(t, isTransient(nil))
}

func TestRetryOpStopsOnPermanentError(t *testing.T) {
	calls := 0
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}
	err := retryOp(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return errors.New("constraint failed")
	})
	assert.EqualError(t, err, "constraint failed")
	assert.Equal(t, 3, calls)
}
