package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

const sweepInterval = time.Minute

// InMemoryCache is a process-local TTL cache for development and tests.
// Expired views and cluster index entries are swept at most once per
// sweepInterval.
type InMemoryCache struct {
	mu        sync.Mutex
	entries   map[string]entry
	clusters  map[int64]map[string]time.Time
	clock     func() time.Time
	nextSweep time.Time
}

// NewInMemory constructs an empty cache. A nil clock uses time.Now.
func NewInMemory(clock func() time.Time) *InMemoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &InMemoryCache{
		entries:  make(map[string]entry),
		clusters: make(map[int64]map[string]time.Time),
		clock:    clock,
	}
}

func (c *InMemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !c.clock().Before(e.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *InMemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.sweepLocked(now)
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Index keeps key under primaryID until ttl elapses, matching the lifetime
// Redis gives the cluster set.
func (c *InMemoryCache) Index(_ context.Context, primaryID int64, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.sweepLocked(now)
	keys, ok := c.clusters[primaryID]
	if !ok {
		keys = make(map[string]time.Time)
		c.clusters[primaryID] = keys
	}
	keys[key] = now.Add(ttl)
	return nil
}

func (c *InMemoryCache) sweepLocked(now time.Time) {
	if now.Before(c.nextSweep) {
		return
	}
	c.nextSweep = now.Add(sweepInterval)
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	for id, keys := range c.clusters {
		for key, expiresAt := range keys {
			if !now.Before(expiresAt) {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(c.clusters, id)
		}
	}
}

func (c *InMemoryCache) Invalidate(_ context.Context, primaryID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.clusters[primaryID] {
		delete(c.entries, key)
	}
	delete(c.clusters, primaryID)
	return nil
}

// IndexedClusters reports how many clusters hold index entries.
func (c *InMemoryCache) IndexedClusters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clusters)
}

// Len reports live and expired-but-unswept entries.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
