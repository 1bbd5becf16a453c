package port

import (
	"context"
	"encoding/json"
)

// Store is the shared, subscribable key-value mapping the coordination layer
// runs against. Paths are slash-separated; values are JSON. Writes are
// last-write-wins with no transactions across paths, so correctness depends
// on each path having exactly one writer by convention.
type Store interface {
	// Get returns the value at path, or domain.ErrNotFound when absent.
	// Reading a non-leaf path returns a JSON object of its children keyed
	// by the next path segment.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set overwrites the value at path unconditionally.
	Set(ctx context.Context, path string, value any) error

	// Update merges fields into the object at path, creating it if absent.
	// Fields not named are left untouched.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Remove deletes path and everything under it. Idempotent.
	Remove(ctx context.Context, path string) error

	// Subscribe streams snapshots of path: the current value immediately,
	// then one per change under the path. Absent values arrive as JSON
	// null. The channel closes when ctx ends or the store shuts down.
	Subscribe(ctx context.Context, path string) (<-chan json.RawMessage, error)

	// RemoveOnDisconnect registers a store-side rule deleting path when
	// this client's connection is lost, covering crashes and network loss
	// with no explicit call from the application.
	RemoveOnDisconnect(ctx context.Context, path string) error

	// Close releases the connection, firing any registered disconnect
	// cleanup.
	Close() error
}
