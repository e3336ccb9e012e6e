package interfaces

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// ICacheStore is a keyed payload store where freshness is decided per read.
// -----------------------------------------------------------------------------

type ICacheStore interface {

	// -----------------------------------------------------------------------------

	// Get returns the payload for key if it was captured no longer than ttl ago.
	Get(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error)

	// -----------------------------------------------------------------------------

	// Set stores payload under key with the current capture time.
	Set(ctx context.Context, key string, payload []byte) error

	// -----------------------------------------------------------------------------

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// -----------------------------------------------------------------------------

	// DeleteByPrefix removes every key starting with prefix and returns the count.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// -----------------------------------------------------------------------------

	// Cleanup evicts entries captured more than maxAge ago.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// -----------------------------------------------------------------------------

	// Len reports the number of stored entries.
	Len(ctx context.Context) (int, error)

	// -----------------------------------------------------------------------------

	// Close releases backend resources.
	Close() error
}
