package postgres

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	txRetries     = 3
	retryBaseWait = 25 * time.Millisecond
)

// retryableTx reports whether err is a transient serialization or deadlock
// failure worth re-running the whole transaction for.
func retryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withTxRetry runs fn up to txRetries times, backing off with jitter
// between attempts on retryable failures. Sentinel errors pass through
// untouched so callers keep their errors.Is semantics; a non-retryable
// error returns immediately.
func withTxRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		if err = fn(ctx); err == nil || !retryableTx(err) {
			return err
		}
		wait := retryBaseWait<<attempt + time.Duration(rand.Int63n(int64(retryBaseWait)))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
