// Package offsets persists committed stream offsets and small keyed
// values in redis, optionally encrypted at rest with AES-GCM.
package offsets

import (
	"context"
	"time"
)

// Store persists committed offsets per (clientKey, topic) and provides
// generic keyed access for tokens and other small values. Entries
// survive process restarts.
type Store interface {
	// GetOffset returns the committed offset for the key, 0 on a miss
	GetOffset(ctx context.Context, clientKey, topic string) (int64, error)

	// SetOffset commits an offset unconditionally (last writer wins)
	SetOffset(ctx context.Context, clientKey, topic string, offset int64) error

	// GetValue fetches a stored value. The second return reports whether
	// the key existed. When decrypt is set and the store carries a
	// cipher, the value is decrypted on the way out.
	GetValue(ctx context.Context, key string, decrypt bool) (string, bool, error)

	// SetValue stores a value with an optional TTL (0 means no expiry).
	// When encrypt is set and the store carries a cipher, the value is
	// encrypted at rest.
	SetValue(ctx context.Context, key, value string, ttl time.Duration, encrypt bool) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Close releases the underlying connection
	Close() error
}
