package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/storefront-signup/internal/core/port"
)

const defaultCounterPrefix = "ratelimit"

// incrementLua increments KEYS[1] and attaches the window expiry when the key has none,
// so creating the key and arming its expiry happen in one step.
// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
var incrementLua = red.NewScript(`
local count = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// CounterStore keeps fixed-window counters in Redis so every instance shares one quota.
type CounterStore struct {
	client red.UniversalClient
	prefix string
}

// NewCounterStore constructs a counter store using the provided Redis client and key prefix.
func NewCounterStore(client red.UniversalClient, keyPrefix string) *CounterStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCounterPrefix
	}
	return &CounterStore{client: client, prefix: prefix}
}

// Increment adds one to the counter, creating it with the window as expiry when absent.
func (s *CounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}

	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	count, err := incrementLua.Run(ctx, s.client, []string{s.key(key)}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment counter: %w", err)
	}

	return count, nil
}

// RemainingTTL returns the time left in the counter's window.
func (s *CounterStore) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis pttl counter: %w", err)
	}

	// -2 means missing, -1 means no expiry.
	if ttl <= 0 {
		return 0, false, nil
	}

	return ttl, true, nil
}

func (s *CounterStore) key(identifier string) string {
	return fmt.Sprintf("%s:%s", s.prefix, identifier)
}

var _ port.CounterStore = (*CounterStore)(nil)
