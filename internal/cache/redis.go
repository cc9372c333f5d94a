package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// redisCache stores values in Redis so several instances can share one cache.
// Tag membership is tracked in Redis sets. Single-flight de-duplication stays
// process-local; across instances Redis itself absorbs the duplicate writes.
type redisCache struct {
	client    *redis.Client
	logger    *logrus.Logger
	keyPrefix string

	flight    singleflight.Group
	hits      int64
	misses    int64
	evictions int64
}

// NewRedis creates a Redis-backed cache. The prefix namespaces all keys so
// the cache can share a database with other consumers.
func NewRedis(client *redis.Client, keyPrefix string, logger *logrus.Logger) Cache {
	if keyPrefix == "" {
		keyPrefix = "deskora:cache"
	}
	return &redisCache{
		client:    client,
		logger:    logger,
		keyPrefix: keyPrefix,
	}
}

func (c *redisCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, error) {
	storageKey := c.keyPrefix + ":v:" + key

	if value, err := c.client.Get(ctx, storageKey).Bytes(); err == nil {
		atomic.AddInt64(&c.hits, 1)
		return value, nil
	} else if err != redis.Nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache read failed, computing directly")
	}

	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if value, err := c.client.Get(ctx, storageKey).Bytes(); err == nil {
			atomic.AddInt64(&c.hits, 1)
			return value, nil
		}
		atomic.AddInt64(&c.misses, 1)

		computed, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store(ctx, storageKey, computed, ttl, tags); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		}
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

func (c *redisCache) store(ctx context.Context, storageKey string, value []byte, ttl time.Duration, tags []string) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, storageKey, value, ttl)
	for _, tag := range tags {
		tagKey := c.keyPrefix + ":t:" + tag
		pipe.SAdd(ctx, tagKey, storageKey)
		// keep the tag set alive a little longer than its members
		pipe.Expire(ctx, tagKey, ttl+time.Minute)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) Invalidate(ctx context.Context, tag string) error {
	tagKey := c.keyPrefix + ":t:" + tag

	members, err := c.client.SMembers(ctx, tagKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if len(members) > 0 {
		if err := c.client.Del(ctx, members...).Err(); err != nil {
			return err
		}
		atomic.AddInt64(&c.evictions, int64(len(members)))
	}
	if err := c.client.Del(ctx, tagKey).Err(); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"tag":     tag,
		"entries": len(members),
	}).Info("Cache tag invalidated")
	return nil
}

func (c *redisCache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
