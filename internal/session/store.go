package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for missing or expired sessions
var ErrNotFound = errors.New("session not found")

// Store persists session records. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, r *Record) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Sweeper is implemented by stores that do not expire records on their own
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
