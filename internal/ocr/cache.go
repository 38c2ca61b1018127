package ocr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TextCache stores recognized text by key. Get reports a miss with ok=false.
type TextCache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is an in-process TextCache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// RedisCache is a TextCache backed by Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps client; keys are stored under prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedis connects and pings a Redis server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "ocr: connect to redis at %s", addr)
	}
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "ocr: redis get")
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return eris.Wrap(err, "ocr: redis set")
	}
	return nil
}

// Cached memoizes an inner Provider by content hash. Cache failures are
// logged and never fail recognition.
type Cached struct {
	inner  Provider
	cache  TextCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCached(inner Provider, cache TextCache, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Recognize(ctx context.Context, doc Document) (RecognizedText, error) {
	hash, err := doc.Hash()
	if err != nil {
		return c.inner.Recognize(ctx, doc)
	}
	key := "ocr:" + c.inner.Name() + ":" + hash

	if b, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("ocr cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var res RecognizedText
		if err := json.Unmarshal(b, &res); err == nil {
			res.Cached = true
			return res, nil
		}
		c.logger.Warn("ocr cache entry unreadable", zap.String("key", key))
	}

	if doc.ContentHash == "" {
		doc.ContentHash = hash
	}
	res, err := c.inner.Recognize(ctx, doc)
	if err != nil {
		return res, err
	}
	if b, err := json.Marshal(res); err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			c.logger.Warn("ocr cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return res, nil
}
