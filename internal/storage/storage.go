// Package storage persists audio blobs under opaque keys and hands out
// short-lived URLs for playback. The local-directory implementation is the
// default backend; the interface keeps services unaware of where the bytes
// live.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound is returned when the key has no stored object.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for empty keys and keys that escape the
	// store's namespace.
	ErrInvalidKey = errors.New("invalid object key")
)

// Stats summarizes a store's contents.
type Stats struct {
	Objects int
	Bytes   int64
}

// Store reads and writes audio blobs.
type Store interface {
	// Upload stores data under the key, replacing any existing object.
	Upload(ctx context.Context, key string, data []byte) error

	// Download returns the object's bytes or ErrNotFound.
	Download(ctx context.Context, key string) ([]byte, error)

	// SignedURL returns a playback URL valid for roughly ttl. The object
	// must exist.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Delete removes the object. Deleting a missing key returns
	// ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Stats returns the object count and total size.
	Stats(ctx context.Context) (Stats, error)
}
