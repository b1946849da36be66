// Package cache provides the versioned key/value store used by the analysis
// and review pipelines. Keys carry the artifact kind, the paper's content
// fingerprint, the prompt schema version, and the model tag, so any change to
// prompts or models produces a clean miss instead of a stale hit.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Store is a shared key/value store with per-key expiry. Reads and writes are
// atomic per key; no cross-key transactions are assumed.
type Store interface {
	// Get returns the stored value and true, or false if the key is absent
	// or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key builds a cache key in the persisted layout
// "{kind}:{fingerprint}:v{schemaVersion}:{modelTag}",
// e.g. "analysis:9f3a0c11d2e84b77:v1.0.0:gemini-2.0-flash".
// The format is load-bearing: entries written by one process must be
// readable by another, so it must not change shape.
func Key(kind, fingerprint, schemaVersion, modelTag string) string {
	return fmt.Sprintf("%s:%s:v%s:%s", kind, fingerprint, schemaVersion, modelTag)
}
