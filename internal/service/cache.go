package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	groupsCacheKey      = "pothole:groups"
	groupsGenerationKey = "pothole:groups:generation"
	defaultCacheTTL     = 30 * time.Second
)

// GroupCache keeps the last aggregated group summaries in redis. Entries are
// keyed by a generation counter that every mutation bumps, so a summary
// computed before a mutation can never be read after it. A nil *GroupCache is
// a cache that always misses.
type GroupCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewGroupCache returns nil when rc is nil.
func NewGroupCache(rc *redis.Client, ttl time.Duration) *GroupCache {
	if rc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &GroupCache{rc: rc, ttl: ttl}
}

func groupsKey(gen int64) string {
	return groupsCacheKey + ":" + strconv.FormatInt(gen, 10)
}

// Generation returns the current cache generation, 0 before the first
// invalidation.
func (c *GroupCache) Generation(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}
	gen, err := c.rc.Get(ctx, groupsGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get reports ok=false on a miss; err is set only for transport or decode failures.
func (c *GroupCache) Get(ctx context.Context, gen int64) ([]model.PotholeGroup, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	raw, err := c.rc.Get(ctx, groupsKey(gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var groups []model.PotholeGroup
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, false, err
	}
	return groups, true, nil
}

// Set stores groups under gen, the generation read before they were computed.
func (c *GroupCache) Set(ctx context.Context, gen int64, groups []model.PotholeGroup) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, groupsKey(gen), b, c.ttl).Err()
}

// Invalidate moves the cache to a new generation. Entries of older
// generations are left to expire.
func (c *GroupCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rc.Incr(ctx, groupsGenerationKey).Err()
}
