// Package kv abstracts the client-local key-value store backing the
// signed document registry, so it can run against SQLite in the CLI and
// an in-memory fake in tests.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// Store is a get/set/remove capability over string keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
