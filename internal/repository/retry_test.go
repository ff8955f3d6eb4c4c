package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Meirlen/Tabys-sub000/internal/repository"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, true},
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"connection failure", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, true},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := repository.IsTransient(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	transient := &pgconn.PgError{Code: pgerrcode.DeadlockDetected}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := repository.WithRetry(ctx, 3, func() error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("non-transient aborts immediately", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := repository.WithRetry(ctx, 3, func() error {
			calls++
			return boom
		})
		if err != boom {
			t.Fatalf("expected boom, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected 1 call, got %d", calls)
		}
	})

	t.Run("attempts exhausted returns last error", func(t *testing.T) {
		calls := 0
		err := repository.WithRetry(ctx, 2, func() error {
			calls++
			return transient
		})
		if !errors.Is(err, transient) {
			t.Fatalf("expected transient error, got %v", err)
		}
		if calls != 2 {
			t.Fatalf("expected 2 calls, got %d", calls)
		}
	})
}
