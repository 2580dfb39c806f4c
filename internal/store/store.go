package store

import (
	"context"

	"lockerline/internal/domain"
)

// Store is a durable, append-only, deduplicated event log. Append order is
// the authoritative event order; records are never rewritten or removed.
type Store interface {
	// Append persists the event as the next record unless its EventID was
	// already accepted, in which case it returns false with no side effect.
	// A write failure must leave the ID unaccepted so a later re-delivery
	// is not silently dropped.
	Append(ctx context.Context, ev domain.Event) (bool, error)
	// LoadAll re-reads the full sequence from durable storage in append order.
	LoadAll(ctx context.Context) ([]domain.Event, error)
	// LoadByLocker filters the sequence to one locker, preserving order.
	LoadByLocker(ctx context.Context, lockerID string) ([]domain.Event, error)
}
