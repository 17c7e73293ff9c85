package cache

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/suivi/core/progress"
)

var nowFunc = time.Now // mockable

// MemoryNonceCache is a process-local NonceCache, used when no redis is configured.
// Expired keys are swept at most once per ttl.
type MemoryNonceCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	keys      map[string]time.Time // {key: expiry}
	lastSweep time.Time
}

var _ progress.NonceCache = (*MemoryNonceCache)(nil)

func NewMemoryNonceCache(ttl time.Duration) *MemoryNonceCache {
	return &MemoryNonceCache{ttl: ttl, keys: make(map[string]time.Time)}
}

func (c *MemoryNonceCache) Claim(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := nowFunc()
	if exp, ok := c.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.keys[key] = now.Add(c.ttl)
	if now.Sub(c.lastSweep) >= c.ttl {
		c.evict(now)
		c.lastSweep = now
	}
	return true, nil
}

func (c *MemoryNonceCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *MemoryNonceCache) evict(now time.Time) {
	for k, exp := range c.keys {
		if !now.Before(exp) {
			delete(c.keys, k)
		}
	}
}
