package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cynic-kernel/kernel/internal/kernel"
	"github.com/redis/go-redis/v9"
)

// RedisQTableCache fronts the Q-table's batched flush (F(8)=21-entry
// flush batch by default) with a write-behind cache so a MACRO/META worker can
// read a fresher QEntry than the last Storage flush without waiting on
// it. Pings the connection at construction and uses plain key/value
// Set/Get.
type RedisQTableCache struct {
	rdb *redis.Client
	ttl time.Duration
}

const qtableCacheTTL = 10 * time.Minute

// NewRedisQTableCache dials addr/db and verifies connectivity with a Ping,
// mirroring NewGoRedisAdapter's construction-time failure posture.
func NewRedisQTableCache(addr, password string, db int) (*RedisQTableCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("collab: redis ping failed (%s): %w", addr, err)
	}

	slog.Info("collab: qtable cache connected", "addr", addr, "db", db)
	return &RedisQTableCache{rdb: rdb, ttl: qtableCacheTTL}, nil
}

func (c *RedisQTableCache) Close() error {
	return c.rdb.Close()
}

func qtableCacheKey(stateKey, action string) string {
	return "kernel:qtable:" + stateKey + "|" + action
}

// Put caches one QEntry ahead of its next batched Storage flush.
func (c *RedisQTableCache) Put(ctx context.Context, e kernel.QEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("collab: marshal qtable entry: %w", err)
	}
	return c.rdb.Set(ctx, qtableCacheKey(e.StateKey, e.Action), data, c.ttl).Err()
}

// Get returns a cached QEntry, or ok=false on a cache miss.
func (c *RedisQTableCache) Get(ctx context.Context, stateKey, action string) (kernel.QEntry, bool, error) {
	val, err := c.rdb.Get(ctx, qtableCacheKey(stateKey, action)).Bytes()
	if err == redis.Nil {
		return kernel.QEntry{}, false, nil
	}
	if err != nil {
		return kernel.QEntry{}, false, fmt.Errorf("collab: get qtable entry: %w", err)
	}
	var e kernel.QEntry
	if err := json.Unmarshal(val, &e); err != nil {
		return kernel.QEntry{}, false, fmt.Errorf("collab: unmarshal qtable entry: %w", err)
	}
	return e, true, nil
}
