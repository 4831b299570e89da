package store

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	mattn "github.com/mattn/go-sqlite3"
	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  25 * time.Millisecond,
	maxDelay:   400 * time.Millisecond,
}

// isTransient matches lock contention and short reads reported by either
// sqlite driver. Typed driver codes are checked first; the message fallback
// covers errors that lost their type on the way up.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pure *sqlite.Error
	if errors.As(err, &pure) {
		code := pure.Code()
		return code&0xff == sqlitelib.SQLITE_BUSY || code&0xff == sqlitelib.SQLITE_LOCKED ||
			code == sqlitelib.SQLITE_IOERR_SHORT_READ
	}
	var cgo mattn.Error
	if errors.As(err, &cgo) {
		return cgo.Code == mattn.ErrBusy || cgo.Code == mattn.ErrLocked ||
			cgo.ExtendedCode == mattn.ErrIoErrShortRead
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails permanently, or retries run out.
func retryOp(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoffDelay(cfg, attempt)):
		}
	}
	return lastErr
}

// backoffDelay is baseDelay * 2^attempt capped at maxDelay, plus jitter in [0, baseDelay).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
