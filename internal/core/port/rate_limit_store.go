package port

import (
	"context"
	"time"
)

// CounterStore is an expiring, monotonically increasing counter keyed by string.
type CounterStore interface {
	// Increment atomically adds one to key. A missing key is created at 1 with the supplied window
	// as its expiry; an existing key keeps its original expiry.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// RemainingTTL reports how long the current window for key has left.
	// ok is false when the key does not exist or carries no expiry.
	RemainingTTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)
}
