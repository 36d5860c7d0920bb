package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key doesn't exist or has expired
	ErrNotFound = errors.New("key not found")
)

// Store is a key-value cache for published snapshots
type Store interface {
	// Put stores value under key. A ttl of 0 keeps it until deleted.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
