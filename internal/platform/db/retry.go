package db

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"time"

	"github.com/docslot/docslot/pkg/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

// Classify maps driver errors onto the apperr taxonomy. Errors that are
// already coded, or that carry no recognizable store condition, pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperr.CodeOf(err) != apperr.CodeInternal {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound.WithError(err)
	}
	if IsUnavailable(err) {
		return apperr.ErrStoreUnavailable.WithError(err)
	}
	return err
}

// IsUnavailable reports whether err is a transient store condition: a lost
// connection, a timeout, or sqlite lock contention.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. 57P01..57P03: admin shutdown, crash, cannot connect.
		if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:3] == "57P") {
			return true
		}
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports whether err is a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

// RetryPolicy bounds RetryRead.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry is three attempts starting at 50ms, doubling.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}

// RetryRead runs an idempotent read, retrying only while it fails with
// store_unavailable. It must never wrap a write.
func RetryRead[T any](ctx context.Context, p RetryPolicy, read func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.Backoff

	var (
		out T
		err error
	)
	for i := 0; i < attempts; i++ {
		out, err = read(ctx)
		if err == nil || !apperr.Retryable(err) || i == attempts-1 {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, err
		case <-time.After(wait):
		}
		wait *= 2
	}
	return out, err
}
