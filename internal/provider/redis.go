package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pullback/pkg/model"
)

const (
	redisKeyPrefix = "pullback:candles:"
	probeInterval  = 30 * time.Second
)

// RedisConfig holds the candle cache connection settings
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PastTTL  time.Duration `yaml:"past_ttl"` // closed sessions
	LiveTTL  time.Duration `yaml:"live_ttl"` // today's session
}

// DefaultRedisConfig returns local defaults with the cache disabled
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:    "localhost:6379",
		PastTTL: 7 * 24 * time.Hour,
		LiveTTL: 30 * time.Second,
	}
}

// RedisCache shares fetched sessions across processes through Redis.
// While Redis is unreachable it degrades to a process-local map and
// probes again on a miss once probeInterval has passed.
type RedisCache struct {
	inner  Provider
	client *redis.Client
	cfg    RedisConfig
	log    zerolog.Logger
	now    func() time.Time

	available atomic.Bool
	lastProbe atomic.Int64 // unix nano

	mu     sync.RWMutex
	memory map[string]cacheEntry
}

// NewRedisCache wraps inner with a Redis-backed cache
func NewRedisCache(inner Provider, cfg RedisConfig, log zerolog.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	c := &RedisCache{
		inner:  inner,
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "redis-cache").Logger(),
		now:    time.Now,
		memory: make(map[string]cacheEntry),
	}
	c.ping()
	return c
}

func (c *RedisCache) ping() bool {
	c.lastProbe.Store(c.now().UnixNano())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.client.Ping(ctx).Err()
	was := c.available.Swap(err == nil)
	if err != nil && was {
		c.log.Warn().Err(err).Msg("redis unavailable, using in-memory cache")
	} else if err == nil && !was {
		c.log.Info().Str("addr", c.cfg.Addr).Msg("redis connected")
	}
	return err == nil
}

// reachable probes Redis at most once per probeInterval while it is down
func (c *RedisCache) reachable() bool {
	if c.available.Load() {
		return true
	}
	if c.now().UnixNano()-c.lastProbe.Load() < int64(probeInterval) {
		return false
	}
	return c.ping()
}

// IsRedisAvailable reports whether the last probe reached Redis
func (c *RedisCache) IsRedisAvailable() bool {
	return c.available.Load()
}

func (c *RedisCache) Name() string     { return c.inner.Name() }
func (c *RedisCache) IsAvailable() bool { return c.inner.IsAvailable() }

func (c *RedisCache) ttl(date time.Time) time.Duration {
	if sameDay(date, c.now()) {
		return c.cfg.LiveTTL
	}
	return c.cfg.PastTTL
}

func (c *RedisCache) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	key := redisKeyPrefix + sessionKey(symbol, date, interval)

	if data, ok := c.get(ctx, key, date); ok {
		return data, nil
	}

	data, err := c.inner.GetMinuteCandles(ctx, symbol, date, interval)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, date, data)
	return data, nil
}

func (c *RedisCache) get(ctx context.Context, key string, date time.Time) (*model.IntradayData, bool) {
	if c.reachable() {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var data model.IntradayData
			if json.Unmarshal(raw, &data) == nil {
				return &data, true
			}
		case err != redis.Nil:
			c.available.Store(false)
			c.log.Warn().Err(err).Msg("redis get failed")
		}
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.memory[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl(date) {
		return e.data, true
	}
	return nil, false
}

func (c *RedisCache) set(ctx context.Context, key string, date time.Time, data *model.IntradayData) {
	if c.available.Load() {
		raw, err := json.Marshal(data)
		if err == nil {
			if err = c.client.Set(ctx, key, raw, c.ttl(date)).Err(); err == nil {
				return
			}
		}
		c.available.Store(false)
		c.log.Warn().Err(err).Msg("redis set failed")
	}

	c.mu.Lock()
	c.memory[key] = cacheEntry{data: data, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Close releases the Redis connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
