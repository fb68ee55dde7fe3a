package grants

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// cacheFetchTimeout bounds a shared backend read. The read outlives any
// single caller, so it cannot use a caller's deadline.
const cacheFetchTimeout = 10 * time.Second

type cacheEntry struct {
	grants *access.GrantSet
}

// CachedStore is a per-process LRU in front of another Store. Concurrent
// misses for the same email share one backend read. Only successful reads
// are cached; a failed read is never replaced by an older value.
//
// Every Set bumps a per-email generation. A read only fills the cache when
// no Set ran while it was in flight, so a revoke is never undone by a read
// that loaded the previous document.
type CachedStore struct {
	next    Store
	cache   *expirable.LRU[string, cacheEntry]
	group   singleflight.Group
	metrics *observability.Metrics

	mu          sync.Mutex
	generations map[string]uint64
}

// NewCachedStore wraps next with an LRU of size entries that expire after ttl
func NewCachedStore(next Store, size int, ttl time.Duration, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{
		next:        next,
		cache:       expirable.NewLRU[string, cacheEntry](size, nil, ttl),
		metrics:     metrics,
		generations: make(map[string]uint64),
	}
}

// Get returns a copy of the cached document or loads it. A caller whose
// context ends stops waiting without cancelling the read for the others.
func (c *CachedStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	key, err := normalizeKey(email)
	if err != nil {
		return nil, err
	}

	if entry, ok := c.cache.Get(key); ok {
		c.metrics.RecordCache("lru", true)
		return clone(entry.grants), nil
	}
	c.metrics.RecordCache("lru", false)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		gen := c.generation(key)

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheFetchTimeout)
		defer cancel()

		g, err := c.next.Get(fetchCtx, key)
		if err != nil {
			return nil, err
		}
		c.fill(key, gen, g)
		return g, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.(*access.GrantSet)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Set writes through and drops the cached entry
func (c *CachedStore) Set(ctx context.Context, email string, grants access.GrantSet) error {
	key, err := normalizeKey(email)
	if err != nil {
		return err
	}
	c.invalidate(key)
	err = c.next.Set(ctx, key, grants)
	// Reads that started during the write may have seen either document
	c.invalidate(key)
	return err
}

// Count delegates to the backend
func (c *CachedStore) Count(ctx context.Context) (int, error) {
	return Count(ctx, c.next)
}

func (c *CachedStore) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key]
}

func (c *CachedStore) fill(key string, gen uint64, g *access.GrantSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key] != gen {
		return
	}
	c.cache.Add(key, cacheEntry{grants: clone(g)})
}

func (c *CachedStore) invalidate(key string) {
	c.mu.Lock()
	c.generations[key]++
	c.cache.Remove(key)
	c.mu.Unlock()
	c.group.Forget(key)
}
