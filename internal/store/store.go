package store

import (
	"context"
	"errors"
)

// ErrConflict is returned when an atomic update keeps losing its optimistic
// concurrency check against concurrent writers.
var ErrConflict = errors.New("store: update conflict")

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub subscription. Messages is closed when the
// subscription is closed or its context is cancelled.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// UpdateFunc receives the current values of the requested hash fields (absent
// fields are missing from the map) and returns the fields to write and the
// fields to delete. Returning empty results means no mutation.
type UpdateFunc func(values map[string]string) (set map[string]string, del []string, err error)

// Store is the shared key-value contract the presence layer depends on: string
// fields in a hash per namespace key, plus fire-and-forget pub/sub channels.
// Implementations must make Update atomic with respect to concurrent Updates of
// the same key so concurrent writers cannot lose each other's field changes.
type Store interface {
	// HGet returns a single hash field. The bool reports whether the field exists.
	HGet(ctx context.Context, key, field string) (string, bool, error)

	// Update atomically reads the given fields, applies fn, and writes the result.
	Update(ctx context.Context, key string, fields []string, fn UpdateFunc) error

	// Publish sends a payload to a channel. No delivery guarantee; if nobody is
	// subscribed the payload is dropped.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts listening on the given channels.
	Subscribe(ctx context.Context, channels ...string) Subscription
}
