package store

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/model"
)

// Keys under which poller state is persisted.
const (
	KeyCursor   = "cursor"
	KeyNextWake = "next_wake"
)

// StateStore persists the poller's resumption state. Only the poller engine
// writes to it, and only one engine runs per deployment.
type StateStore interface {
	// GetCursor returns the stored cursor, or the zero Cursor if none is set.
	GetCursor(ctx context.Context) (model.Cursor, error)
	SetCursor(ctx context.Context, c model.Cursor) error

	// GetNextWake returns the persisted wake-up instant, if any.
	GetNextWake(ctx context.Context) (time.Time, bool, error)
	SetNextWake(ctx context.Context, t time.Time) error

	// Clear removes all persisted poller state.
	Clear(ctx context.Context) error

	Close() error
}

// EventMirror is a long-term copy of ledger events. Implementations must be
// idempotent: writing the same event twice leaves one record.
type EventMirror interface {
	PutEvents(ctx context.Context, events []model.Event) error
	Close() error
}

// StorageError is returned when a durable write or read of poller state fails.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
