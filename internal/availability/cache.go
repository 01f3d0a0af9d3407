// Package availability caches computed free-slot lists in Redis so repeated
// calendar lookups skip the appointments table.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/doctor-booking/internal/slots"
)

// DefaultTTL bounds staleness if an invalidation is ever missed.
const DefaultTTL = 30 * time.Second

// generationTTL keeps the per-day counter well past any in-flight read.
const generationTTL = 24 * time.Hour

// setIfCurrent stores the list only while the day's generation still matches
// the one the reader saw before querying the store.
var setIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if not gen then gen = "0" end
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// Cache stores free-slot lists keyed by doctor and day.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a Redis-backed cache. A non-positive ttl uses DefaultTTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		panic("availability: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{redis: client, ttl: ttl}
}

func (c *Cache) key(doctorID string, day time.Time) string {
	return fmt.Sprintf("availability:%s:%s", doctorID, day.Format(slots.DateLayout))
}

func (c *Cache) generationKey(doctorID string, day time.Time) string {
	return c.key(doctorID, day) + ":gen"
}

// Get returns the cached slots, with ok=false on a miss.
func (c *Cache) Get(ctx context.Context, doctorID string, day time.Time) ([]string, bool, error) {
	data, err := c.redis.Get(ctx, c.key(doctorID, day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("availability: get: %w", err)
	}
	var free []string
	if err := json.Unmarshal(data, &free); err != nil {
		return nil, false, fmt.Errorf("availability: unmarshal: %w", err)
	}
	if free == nil {
		free = []string{}
	}
	return free, true, nil
}

// Generation returns the invalidation counter for doctorID on day. Callers read
// it before querying the store and hand it back to Set.
func (c *Cache) Generation(ctx context.Context, doctorID string, day time.Time) (int64, error) {
	gen, err := c.redis.Get(ctx, c.generationKey(doctorID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("availability: generation: %w", err)
	}
	return gen, nil
}

// Set stores free for doctorID on day unless an invalidation happened after gen
// was read. It reports whether the list was stored.
func (c *Cache) Set(ctx context.Context, doctorID string, day time.Time, gen int64, free []string) (bool, error) {
	if free == nil {
		free = []string{}
	}
	data, err := json.Marshal(free)
	if err != nil {
		return false, fmt.Errorf("availability: marshal: %w", err)
	}
	keys := []string{c.key(doctorID, day), c.generationKey(doctorID, day)}
	stored, err := setIfCurrent.Run(ctx, c.redis, keys, gen, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("availability: set: %w", err)
	}
	return stored == 1, nil
}

// Invalidate drops the entry for doctorID on day and bumps its generation so
// reads that started earlier cannot store their result.
func (c *Cache) Invalidate(ctx context.Context, doctorID string, day time.Time) error {
	genKey := c.generationKey(doctorID, day)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, c.key(doctorID, day))
		return nil
	})
	if err != nil {
		return fmt.Errorf("availability: invalidate: %w", err)
	}
	return nil
}
