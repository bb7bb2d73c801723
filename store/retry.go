package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Backoff retries a store write on transient contention with exponential
// backoff plus jitter. A missed status transition can strand a dependent
// order in WAITING_TRIGGER forever, so status writes use the Critical
// budget rather than giving up early.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var (
	// Routine covers ordinary field updates.
	Routine = Backoff{Attempts: 4, Base: 20 * time.Millisecond, Max: 250 * time.Millisecond}
	// Critical covers order status transitions (fills, cancels).
	Critical = Backoff{Attempts: 10, Base: 20 * time.Millisecond, Max: 2 * time.Second}
)

// Do runs fn, retrying while it reports contention. Any other error, or
// success, returns immediately.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	delay := b.Base

	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		err = fn()
		if err == nil || !IsContention(err) {
			return err
		}

		jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}

		delay *= 2
		if delay > b.Max {
			delay = b.Max
		}
	}
	return fmt.Errorf("store: contention not resolved after %d attempts: %w", b.Attempts, err)
}

// IsContention reports whether err is a transient lock/version conflict
// worth retrying: the ErrContention sentinel, SQLite busy/locked, or a
// Postgres serialization failure / deadlock.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContention) {
		return true
	}

	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}

	var perr *pq.Error
	if errors.As(err, &perr) {
		// serialization_failure, deadlock_detected
		return perr.Code == "40001" || perr.Code == "40P01"
	}
	return false
}
