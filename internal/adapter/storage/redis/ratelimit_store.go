package redis

import (
	"context"
	"fmt"
	"math"
	"time"

	"crm-webhook-engine/internal/ratelimit"

	goredis "github.com/redis/go-redis/v9"
)

// incrScript increments and sets the expiry in one round trip so a crash
// between the two can never leave a counter without a TTL.
var incrScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ ratelimit.Store = (*RateLimitStore)(nil)

// RateLimitStore implements ratelimit.Store backed by Redis, shared across
// API instances.
type RateLimitStore struct {
	client *goredis.Client
	prefix string
}

// NewRateLimitStore creates a new Redis-backed rate limit store.
func NewRateLimitStore(client *goredis.Client) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		prefix: "ratelimit:",
	}
}

// Incr bumps the window counter for key. The key already carries the window
// id; now is unused because Redis owns expiry.
func (s *RateLimitStore) Incr(ctx context.Context, key string, window time.Duration, _ time.Time) (int64, error) {
	// +1s safety margin over the window.
	ttl := int64(math.Ceil(float64(window+time.Second) / float64(time.Millisecond)))

	count, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, ttl).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis rate limit incr: %w", err)
	}
	return count, nil
}
