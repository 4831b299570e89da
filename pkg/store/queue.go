package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ownrealm/pkg/types"
)

const queueColumns = `id, settlement_id, subject_type, subject_key, target, settlers, start_ms, end_ms, queue_index`

func scanQueueEntry(sc interface{ Scan(...any) error }) (types.QueueEntry, error) {
	var e types.QueueEntry
	var start, end int64
	err := sc.Scan(&e.ID, &e.SettlementID, &e.SubjectType, &e.SubjectKey, &e.Target, &e.Settlers, &start, &end, &e.QueueIndex)
	e.StartTime, e.EndTime = fromMS(start), fromMS(end)
	return e, err
}

func collectQueue(rows *sql.Rows) ([]types.QueueEntry, error) {
	defer rows.Close()
	var out []types.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueueTail returns the last entry of a settlement's queue, or nil.
func (t *Tx) QueueTail(ctx context.Context, settlementID int64, st types.SubjectType) (*types.QueueEntry, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE settlement_id = ? AND subject_type = ?
		 ORDER BY queue_index DESC, id DESC LIMIT 1`, settlementID, st)
	e, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue tail: %w", err)
	}
	return &e, nil
}

// QueuedFor counts open entries for one subject key.
func (t *Tx) QueuedFor(ctx context.Context, settlementID int64, st types.SubjectType, key string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE settlement_id = ? AND subject_type = ? AND subject_key = ?`,
		settlementID, st, key).Scan(&n)
	return n, err
}

func (t *Tx) InsertQueueEntry(ctx context.Context, e *types.QueueEntry) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO queue_entries (settlement_id, subject_type, subject_key, target, settlers, start_ms, end_ms, queue_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SettlementID, e.SubjectType, e.SubjectKey, e.Target, e.Settlers, ms(e.StartTime), ms(e.EndTime), e.QueueIndex)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (t *Tx) QueueEntry(ctx context.Context, id int64) (types.QueueEntry, error) {
	e, err := scanQueueEntry(t.tx.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, notFound("queue entry", id)
	}
	return e, err
}

// DeleteQueueEntry removes one row. A missing row is ErrNotFound.
func (t *Tx) DeleteQueueEntry(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("queue entry", id)
	}
	return nil
}

// ListQueue returns the stored rows in queue order. Indices may have gaps
// after cancellations; callers recompute them.
func (s *Store) ListQueue(ctx context.Context, settlementID int64, st types.SubjectType) ([]types.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE settlement_id = ? AND subject_type = ?
		 ORDER BY queue_index, id`, settlementID, st)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return collectQueue(rows)
}

// DueQueueEntries returns entries whose end time has passed, oldest first.
func (s *Store) DueQueueEntries(ctx context.Context, now time.Time, limit int) ([]types.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE end_ms <= ? ORDER BY end_ms, id LIMIT ?`, ms(now), limit)
	if err != nil {
		return nil, fmt.Errorf("due queue entries: %w", err)
	}
	return collectQueue(rows)
}

// DueQueueEntriesFor is DueQueueEntries for one settlement.
func (s *Store) DueQueueEntriesFor(ctx context.Context, settlementID int64, now time.Time) ([]types.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE settlement_id = ? AND end_ms <= ? ORDER BY end_ms, id`,
		settlementID, ms(now))
	if err != nil {
		return nil, fmt.Errorf("due queue entries for %d: %w", settlementID, err)
	}
	return collectQueue(rows)
}
