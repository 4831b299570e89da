package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ownrealm/pkg/core"
	"ownrealm/pkg/types"
)

type Snapshot struct {
	DayID     int64
	Tick      int64
	Blob      []byte
	Hash      string
	CreatedAt time.Time
}

// LastSnapshotHash returns the chain head, or "" before the first snapshot.
func (s *Store) LastSnapshotHash(ctx context.Context) (string, error) {
	var h string
	err := s.db.QueryRowContext(ctx, `SELECT final_hash FROM world_snapshots ORDER BY day_id DESC LIMIT 1`).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return h, err
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx,
			`INSERT INTO world_snapshots (tick, state_blob, final_hash, created_ms) VALUES (?, ?, ?, ?)`,
			snap.Tick, snap.Blob, snap.Hash, ms(snap.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		snap.DayID, err = res.LastInsertId()
		return err
	})
}

// Snapshots returns snapshots oldest first.
func (s *Store) Snapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day_id, tick, state_blob, final_hash, created_ms FROM world_snapshots ORDER BY day_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		var created int64
		if err := rows.Scan(&sn.DayID, &sn.Tick, &sn.Blob, &sn.Hash, &created); err != nil {
			return nil, err
		}
		sn.CreatedAt = fromMS(created)
		out = append(out, sn)
	}
	return out, rows.Err()
}

// Stats are the counters reported by the status endpoint.
type Stats struct {
	Settlements int `json:"settlements"`
	OpenQueue   int `json:"open_queue_entries"`
	Traveling   int `json:"traveling_orders"`
	Battles     int `json:"battles"`
	Trades      int `json:"trades"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM settlements),
		(SELECT COUNT(*) FROM queue_entries),
		(SELECT COUNT(*) FROM travel_orders WHERE status = ?),
		(SELECT COUNT(*) FROM battle_records),
		(SELECT COUNT(*) FROM trade_records)`, types.TravelTraveling,
	).Scan(&st.Settlements, &st.OpenQueue, &st.Traveling, &st.Battles, &st.Trades)
	return st, err
}

// VerifySnapshots recomputes the hash chain from the world id and returns the
// number of links checked. The first broken link is reported as an error.
func (s *Store) VerifySnapshots(ctx context.Context) (int, error) {
	snaps, err := s.Snapshots(ctx)
	if err != nil {
		return 0, err
	}
	prev := s.worldID
	for i, sn := range snaps {
		if want := core.ChainHash(sn.Blob, prev); want != sn.Hash {
			return i, fmt.Errorf("snapshot %d: hash %s, want %s", sn.DayID, sn.Hash, want)
		}
		prev = sn.Hash
	}
	return len(snaps), nil
}
