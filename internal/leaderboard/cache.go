package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/locallift/backend/internal/models"
)

// Cache holds the current full leaderboard per metric kind in Redis.
// A nil *Cache or a Cache without a client is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(kind models.RegionMetric) string {
	return fmt.Sprintf("leaderboard:%s", kind)
}

func generationKey(kind models.RegionMetric) string {
	return fmt.Sprintf("leaderboard:%s:gen", kind)
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Get returns the cached board, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, kind models.RegionMetric) (models.Leaderboard, bool, error) {
	if !c.enabled() {
		return models.Leaderboard{}, false, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Leaderboard{}, false, nil
	}
	if err != nil {
		return models.Leaderboard{}, false, fmt.Errorf("leaderboard cache get %s: %w", kind, err)
	}
	var board models.Leaderboard
	if err := json.Unmarshal(raw, &board); err != nil {
		return models.Leaderboard{}, false, fmt.Errorf("leaderboard cache decode %s: %w", kind, err)
	}
	return board, true, nil
}

// setScript writes the board only while the generation is still the one
// the caller read before loading it.
var setScript = redis.NewScript(`
	local gen = redis.call("get", KEYS[2]) or "0"
	if gen ~= ARGV[1] then
		return 0
	end
	if tonumber(ARGV[3]) > 0 then
		redis.call("set", KEYS[1], ARGV[2], "px", ARGV[3])
	else
		redis.call("set", KEYS[1], ARGV[2])
	end
	return 1
`)

// Generation returns the invalidation counter for kind. Read it before
// loading a board to Set.
func (c *Cache) Generation(ctx context.Context, kind models.RegionMetric) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, generationKey(kind)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("leaderboard cache generation %s: %w", kind, err)
	}
	return gen, nil
}

// Set caches board unless the kind was invalidated after gen was read. It
// reports whether the board was stored.
func (c *Cache) Set(ctx context.Context, board models.Leaderboard, gen int64) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	raw, err := json.Marshal(board)
	if err != nil {
		return false, err
	}
	kind := board.MetricKind
	n, err := setScript.Run(ctx, c.client, []string{cacheKey(kind), generationKey(kind)},
		strconv.FormatInt(gen, 10), raw, c.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("leaderboard cache set %s: %w", kind, err)
	}
	return n == 1, nil
}

// Invalidate drops the cached board and bumps the generation.
func (c *Cache) Invalidate(ctx context.Context, kind models.RegionMetric) error {
	if !c.enabled() {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(kind))
		pipe.Del(ctx, cacheKey(kind))
		return nil
	})
	if err != nil {
		return fmt.Errorf("leaderboard cache invalidate %s: %w", kind, err)
	}
	return nil
}
