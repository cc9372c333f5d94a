package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Dependency tags used by the metrics layer. Invalidating a tag removes
// every entry that declared it, independent of TTL.
const (
	TagTickets     = "tickets"
	TagTechnicians = "technicians"
)

// ComputeFunc produces the value for a missing or expired key. Values are
// stored as bytes so memory and Redis stores behave identically.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache memoizes expensive aggregate computations keyed by request
// fingerprint, with TTL expiry, dependency-tag invalidation and single-flight
// de-duplication of concurrent computes.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, error)
	Invalidate(ctx context.Context, tag string) error
	Stats() Stats
	Close() error
}

// Stats holds cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// entry is one stored value. Owned exclusively by the memory cache.
type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
	tags     []string
}

// memoryCache is the in-process store. Entry map access is mutex-guarded;
// per-key compute linearization is delegated to singleflight.
type memoryCache struct {
	logger *logrus.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	byTag   map[string]map[string]struct{}

	flight    singleflight.Group
	hits      int64
	misses    int64
	evictions int64
}

// NewMemory creates an in-process cache.
func NewMemory(logger *logrus.Logger) Cache {
	return &memoryCache{
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
		byTag:   make(map[string]map[string]struct{}),
	}
}

// GetOrCompute returns the cached value for key, computing it at most once
// across concurrent callers. Failed computes are broadcast to all waiters and
// never stored.
func (c *memoryCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, error) {
	if value, ok := c.lookup(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return value, nil
	}

	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// a concurrent caller may have stored the value while we waited
		if value, ok := c.lookup(key); ok {
			atomic.AddInt64(&c.hits, 1)
			return value, nil
		}
		atomic.AddInt64(&c.misses, 1)

		computed, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, computed, ttl, tags)
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// Invalidate removes every entry tagged with tag, regardless of TTL.
func (c *memoryCache) Invalidate(_ context.Context, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byTag[tag]
	for key := range keys {
		c.removeLocked(key)
		atomic.AddInt64(&c.evictions, 1)
	}

	c.logger.WithFields(logrus.Fields{
		"tag":     tag,
		"entries": len(keys),
	}).Info("Cache tag invalidated")
	return nil
}

func (c *memoryCache) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

func (c *memoryCache) Close() error {
	return nil
}

// lookup returns a live entry's value, lazily evicting expired entries.
func (c *memoryCache) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= e.ttl {
		c.removeLocked(key)
		atomic.AddInt64(&c.evictions, 1)
		return nil, false
	}
	return e.value, true
}

func (c *memoryCache) store(key string, value []byte, ttl time.Duration, tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	c.entries[key] = &entry{
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
		tags:     tags,
	}
	for _, tag := range tags {
		if c.byTag[tag] == nil {
			c.byTag[tag] = make(map[string]struct{})
		}
		c.byTag[tag][key] = struct{}{}
	}
}

// removeLocked deletes an entry and its tag index references. Callers hold
// c.mu.
func (c *memoryCache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, tag := range e.tags {
		delete(c.byTag[tag], key)
		if len(c.byTag[tag]) == 0 {
			delete(c.byTag, tag)
		}
	}
}
