package scheduler

import (
	"context"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

// NextFunc computes the next fire time of a record during a bulk state change.
type NextFunc func(rec JobRecord) *time.Time

// Store persists jobs. Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces the record under its key.
	Put(ctx context.Context, rec JobRecord) error
	Get(ctx context.Context, key JobKey) (JobRecord, error)
	List(ctx context.Context) ([]JobRecord, error)
	Delete(ctx context.Context, key JobKey) error
	SetState(ctx context.Context, key JobKey, state State, next *time.Time) error
	// SetStateAll changes every job in one transaction: either all records change or none do.
	SetStateAll(ctx context.Context, state State, next NextFunc) error
	RecordFire(ctx context.Context, key JobKey, fired time.Time, next *time.Time, lastErr string) error
	Close() error
}
