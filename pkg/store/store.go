// Package store persists IntentRecords behind a keyed compare-and-swap interface.
package store

import (
	"context"
	"errors"

	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

var (
	// ErrNotFound is returned when no record exists for an id
	ErrNotFound = errors.New("intent record not found")
	// ErrExists is returned by Put when a record already exists for an id
	ErrExists = errors.New("intent record already exists")
	// ErrConflict is returned by CompareAndSwap when the stored version moved on
	ErrConflict = errors.New("intent record version conflict")
)

// ListOptions filters List results.
type ListOptions struct {
	// Statuses restricts results to these statuses when non-empty
	Statuses []models.Status
	// Limit caps the number of results; zero means no cap
	Limit int
}

func (o ListOptions) matches(status models.Status) bool {
	if len(o.Statuses) == 0 {
		return true
	}
	for _, s := range o.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Store is an append-only keyed store of IntentRecords. Records are never deleted.
type Store interface {
	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.IntentRecord, error)
	// Put inserts a new record at version 1, or fails with ErrExists.
	Put(ctx context.Context, rec *models.IntentRecord) error
	// CompareAndSwap replaces the record if its stored version equals
	// expectedVersion. On success rec.Version becomes expectedVersion+1.
	CompareAndSwap(ctx context.Context, expectedVersion int64, rec *models.IntentRecord) error
	// List returns records ordered by creation time.
	List(ctx context.Context, opts ListOptions) ([]*models.IntentRecord, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
