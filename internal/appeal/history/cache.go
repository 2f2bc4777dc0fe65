package history

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/rueidis"
	"github.com/robalyx/arbiter/internal/database/types"
	"go.uber.org/zap"
)

// StatsKeyPrefix namespaces Redis keys holding user stats.
// Keys are formatted as "appeal_stats:{guildID}:{userID}".
const StatsKeyPrefix = "appeal_stats:"

// MemoryCache keeps stats in an in-process LRU with expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, types.UserAppealStats]
}

// NewMemoryCache creates an in-process stats cache.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, types.UserAppealStats](size, nil, ttl),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, userID, guildID uint64) (types.UserAppealStats, bool) {
	return c.lru.Get(statsKey(userID, guildID))
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, stats types.UserAppealStats) {
	c.lru.Add(statsKey(stats.UserID, stats.GuildID), stats)
}

// RedisCache keeps stats in Redis so every worker and the bot layer share them.
type RedisCache struct {
	client rueidis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a Redis-backed stats cache.
func NewRedisCache(client rueidis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("stats_cache"),
	}
}

// Get implements Cache. Misses and Redis failures both report not found.
func (c *RedisCache) Get(ctx context.Context, userID, guildID uint64) (types.UserAppealStats, bool) {
	var stats types.UserAppealStats

	data, err := c.client.Do(ctx, c.client.B().Get().Key(statsKey(userID, guildID)).Build()).AsBytes()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			c.logger.Warn("Failed to read cached stats", zap.Error(err))
		}
		return stats, false
	}

	if err := sonic.Unmarshal(data, &stats); err != nil {
		c.logger.Warn("Failed to decode cached stats", zap.Error(err))
		return stats, false
	}

	return stats, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, stats types.UserAppealStats) {
	data, err := sonic.Marshal(stats)
	if err != nil {
		c.logger.Error("Failed to encode stats", zap.Error(err))
		return
	}

	err = c.client.Do(ctx, c.client.B().Set().
		Key(statsKey(stats.UserID, stats.GuildID)).
		Value(rueidis.BinaryString(data)).
		Ex(c.ttl).
		Build()).Error()
	if err != nil {
		c.logger.Warn("Failed to cache stats", zap.Error(err))
	}
}

func statsKey(userID, guildID uint64) string {
	return fmt.Sprintf("%s%d:%d", StatsKeyPrefix, guildID, userID)
}
