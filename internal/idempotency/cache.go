package idempotency

import (
	"context"
	"sync"
	"time"
)

// Cache stores recent results by key. Implementations must be safe for
// concurrent use. A cache is an accelerator only: the message log remains
// the source of truth, so a miss or an error never changes the outcome.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Set(ctx context.Context, key string, r Result, ttl time.Duration) error
	// Sweep drops entries stored before cutoff and returns how many went.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (Result, bool, error) { return Result{}, false, nil }
func (NopCache) Set(context.Context, string, Result, time.Duration) error { return nil }
func (NopCache) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

type memEntry struct {
	res     Result
	expires time.Time
	stored  time.Time
}

// MemoryCache is a bounded in-process TTL map. When full, expired entries
// are evicted first, then the oldest one.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	max     int
	now     func() time.Time
}

// NewMemoryCache returns a cache holding at most max entries (max <= 0
// means 10000).
func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = 10000
	}
	return &MemoryCache{
		entries: make(map[string]memEntry),
		max:     max,
		now:     time.Now,
	}
}

// Get returns the live entry for key.
func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result{}, false, nil
	}
	if !now.Before(e.expires) {
		delete(c.entries, key)
		return Result{}, false, nil
	}
	return e.res, true, nil
}

// Set stores r under key for ttl.
func (c *MemoryCache) Set(_ context.Context, key string, r Result, ttl time.Duration) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[key] = memEntry{res: r, expires: now.Add(ttl), stored: now}
	return nil
}

// evictLocked frees at least one slot. Caller holds mu.
func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.stored.Before(oldest) {
			oldestKey, oldest = k, e.stored
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Sweep removes entries stored before cutoff or already expired.
func (c *MemoryCache) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.stored.Before(cutoff) || !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, live or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
