// Package kvstore defines the durable scoped key-value storage contract used
// by the queue subsystem. Blobs are opaque strings; callers JSON-encode their
// own payloads. No transaction is assumed across multiple keys, so callers
// must tolerate partial writes. Per-key atomicity is provided by Update.
package kvstore

import (
	"context"
	"errors"
)

// Storage errors.
var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store is closed")
)

// UpdateFunc transforms the current value of a key. found is false when the
// key does not exist yet; the returned value replaces the stored one.
type UpdateFunc func(current string, found bool) (string, error)

// Store is a durable scoped key-value store.
//
// Scope isolates tenants from each other: the same key in two scopes refers
// to two independent values.
type Store interface {
	// Get returns the value for a key. Returns ErrNotFound when absent.
	Get(ctx context.Context, scope, key string) (string, error)

	// GetMany returns the values for the given keys. Absent keys are
	// omitted from the result, not reported as errors.
	GetMany(ctx context.Context, scope string, keys []string) (map[string]string, error)

	// SetMany writes all given key-value pairs. Writes of distinct keys
	// are not atomic as a group.
	SetMany(ctx context.Context, scope string, values map[string]string) error

	// Update applies fn to the current value of a key and stores the
	// result as a single atomic read-modify-write. Two concurrent Update
	// calls on the same (scope, key) never lose either write. Returning
	// an error from fn aborts the update without writing.
	Update(ctx context.Context, scope, key string, fn UpdateFunc) error

	// Close releases the underlying storage backend.
	Close() error
}
