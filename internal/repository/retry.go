package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultStoreRetries bounds call-site retries of transient storage failures.
const DefaultStoreRetries = 3

// IsTransient reports whether err is a retryable storage failure:
// connection loss, deadlock, or serialization conflict.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.SerializationFailure
	}
	return false
}

// WithRetry runs fn, retrying transient storage failures with doubling
// backoff starting at 100 ms. Non-transient errors abort immediately; after
// attempts exhausted the last error is returned and the caller re-queues.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := 100 * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
