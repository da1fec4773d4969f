package rule

import (
	"context"
	"sync"
	"time"
)

// Cache holds the enabled rules of each trigger type between mutations.
type Cache interface {
	// Get returns cached rules; ok is false on a miss or when expired.
	Get(t Trigger) (rules []*Rule, ok bool)
	Set(t Trigger, rules []*Rule)
	// Invalidate clears every trigger, forcing a reload on next Get.
	Invalidate()
}

// InMemoryCache is a TTL cache of rule lists keyed by trigger.
// A zero TTL never expires; entries then only go away on Invalidate.
type InMemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[Trigger]cacheEntry
}

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// NewInMemoryCache creates a cache with the given TTL.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	return &InMemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Trigger]cacheEntry),
	}
}

func (c *InMemoryCache) Get(t Trigger) ([]*Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[t]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.cachedAt) > c.ttl {
		return nil, false
	}
	return cloneAll(e.rules), true
}

func (c *InMemoryCache) Set(t Trigger, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t] = cacheEntry{rules: cloneAll(rules), cachedAt: c.now()}
}

func (c *InMemoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Trigger]cacheEntry)
}

// CachedStore serves ListByTrigger from a Cache and invalidates it on every
// mutation that can change selection. Counter updates pass through without
// invalidating, so cached rules may carry stale counters.
type CachedStore struct {
	Store
	cache Cache
}

// NewCachedStore wraps s.
func NewCachedStore(s Store, c Cache) *CachedStore {
	return &CachedStore{Store: s, cache: c}
}

func (s *CachedStore) ListByTrigger(ctx context.Context, t Trigger) ([]*Rule, error) {
	if rules, ok := s.cache.Get(t); ok {
		return rules, nil
	}
	rules, err := s.Store.ListByTrigger(ctx, t)
	if err != nil {
		return nil, err
	}
	s.cache.Set(t, rules)
	return rules, nil
}

func (s *CachedStore) Create(ctx context.Context, r *Rule) error {
	defer s.cache.Invalidate()
	return s.Store.Create(ctx, r)
}

func (s *CachedStore) Update(ctx context.Context, r *Rule) error {
	defer s.cache.Invalidate()
	return s.Store.Update(ctx, r)
}

func (s *CachedStore) Delete(ctx context.Context, id string, at time.Time) error {
	defer s.cache.Invalidate()
	return s.Store.Delete(ctx, id, at)
}

func (s *CachedStore) MarkScheduledRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time, disable bool) error {
	if disable {
		defer s.cache.Invalidate()
	}
	return s.Store.MarkScheduledRun(ctx, id, lastRun, nextRun, disable)
}

func cloneAll(rules []*Rule) []*Rule {
	out := make([]*Rule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}
