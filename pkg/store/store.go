// Package store persists settlements, queues, travel orders and history in
// sqlite. Every mutation runs inside WithTx; reads go straight to the pool.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"ownrealm/pkg/core"
)

type Store struct {
	db      *sql.DB
	driver  string
	log     *log.Logger
	worldID string
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, driver, path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	conn, err := dsn(driver, path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, driver: driver, log: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.initIdentity(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() string { return s.driver }

// WorldID is the stable identity generated on first boot.
func (s *Store) WorldID() string { return s.worldID }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return core.Transient(err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) initIdentity(ctx context.Context) error {
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_meta WHERE key = 'world_id'`).Scan(&s.worldID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	id := core.Hash([]byte(fmt.Sprintf("GENESIS-%d-%x", time.Now().UnixNano(), seed)))
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO system_meta (key, value) VALUES ('world_id', ?)`, id); err != nil {
		return err
	}
	s.log.Printf("first boot: world %s", id[:12])
	return s.db.QueryRowContext(ctx, `SELECT value FROM system_meta WHERE key = 'world_id'`).Scan(&s.worldID)
}

// WithTx runs fn in one transaction, committing when fn returns nil.
// Lock contention retries the whole transaction; if it persists the error
// is reported as core.ErrTransientStore.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	err := retryOp(ctx, defaultRetryConfig, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer sqlTx.Rollback() //nolint:errcheck
		if err := fn(&Tx{tx: sqlTx}); err != nil {
			return err
		}
		return sqlTx.Commit()
	})
	if err != nil && isTransient(err) && !errors.Is(err, core.ErrTransientStore) {
		return core.Transient(err)
	}
	return err
}

// Tx exposes the mutating operations. It is only valid inside WithTx.
type Tx struct {
	tx *sql.Tx
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, core.ErrNotFound)
}
