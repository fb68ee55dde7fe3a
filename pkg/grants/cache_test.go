package grants

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// countingStore counts backend reads and can be made to fail or block. A
// gated read loads the document before it blocks, so it returns whatever
// was stored when the read began.
type countingStore struct {
	*MemoryStore
	gets    atomic.Int32
	failGet atomic.Bool
	gate    chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	g, err := s.MemoryStore.Get(ctx, email)
	s.gets.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if s.failGet.Load() {
		return nil, errors.New("backend unavailable")
	}
	return g, err
}

func waitForGets(t *testing.T, s *countingStore, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return s.gets.Load() >= n }, time.Second, time.Millisecond)
}

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, client := setupMiniredis(t)
	backend := newCountingStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))

	metrics := observability.NewTestMetrics()
	cache := NewRedisCache(backend, client, time.Minute, observability.NewNopLogger(), metrics)

	g, err := cache.Get(ctx, "Alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, g.Pages)
	assert.True(t, mr.Exists(RedisKeyPrefix+"alice@co.com"))

	g, err = cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, g.Pages)
	assert.Equal(t, int32(1), backend.gets.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("redis")))
}

func TestRedisCache_CachesMissingDocument(t *testing.T) {
	ctx := context.Background()
	_, client := setupMiniredis(t)
	backend := newCountingStore()
	cache := NewRedisCache(backend, client, time.Minute, observability.NewNopLogger(), nil)

	for i := 0; i < 3; i++ {
		g, err := cache.Get(ctx, "ghost@co.com")
		require.NoError(t, err)
		assert.Nil(t, g)
	}
	assert.Equal(t, int32(1), backend.gets.Load())
}

func TestRedisCache_SetReplacesEntry(t *testing.T) {
	ctx := context.Background()
	mr, client := setupMiniredis(t)
	backend := newCountingStore()
	cache := NewRedisCache(backend, client, time.Minute, observability.NewNopLogger(), nil)

	_, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	cached, err := mr.Get(RedisKeyPrefix + "alice@co.com")
	require.NoError(t, err)
	require.Equal(t, missingMarker, cached)

	require.NoError(t, cache.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"clients"}}))

	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"clients"}, g.Pages)
	assert.Equal(t, int32(1), backend.gets.Load())
}

func TestRedisCache_StaleReadDoesNotOverwriteWrite(t *testing.T) {
	ctx := context.Background()
	_, client := setupMiniredis(t)
	backend := newCountingStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{
		Pages:    []string{"clients", "dashboard"},
		Features: []string{"view_financials"},
	}))
	backend.gate = make(chan struct{})
	cache := NewRedisCache(backend, client, time.Minute, observability.NewNopLogger(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.Get(ctx, "alice@co.com")
		assert.NoError(t, err)
	}()
	waitForGets(t, backend, 1)

	require.NoError(t, cache.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"dashboard"}}))
	close(backend.gate)
	<-done

	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, g.Pages)
	assert.Empty(t, g.Features)
	assert.Equal(t, int32(1), backend.gets.Load())
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, client := setupMiniredis(t)
	cache := NewRedisCache(NewMemoryStore(), client, time.Minute, observability.NewNopLogger(), nil)

	_, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(RedisKeyPrefix+"alice@co.com"))
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, client := setupMiniredis(t)
	backend := NewMemoryStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))
	require.NoError(t, mr.Set(RedisKeyPrefix+"alice@co.com", "{garbage"))

	cache := NewRedisCache(backend, client, time.Minute, observability.NewNopLogger(), nil)

	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, g.Pages)
}

func TestRedisCache_RedisDownReadsThrough(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	backend := NewMemoryStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))

	cache := NewRedisCache(backend, client, time.Minute, observability.NewNopLogger(), nil)

	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, g.Pages)
}

func TestRedisCache_BackendErrorPropagates(t *testing.T) {
	_, client := setupMiniredis(t)
	backend := newCountingStore()
	backend.failGet.Store(true)

	cache := NewRedisCache(backend, client, time.Minute, observability.NewNopLogger(), nil)

	_, err := cache.Get(context.Background(), "alice@co.com")
	assert.Error(t, err)
}

func TestCachedStore_HitsAndInvalidation(t *testing.T) {
	ctx := context.Background()
	backend := newCountingStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))

	cache := NewCachedStore(backend, 16, time.Minute, nil)

	for i := 0; i < 3; i++ {
		g, err := cache.Get(ctx, "ALICE@co.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"tasks"}, g.Pages)
	}
	assert.Equal(t, int32(1), backend.gets.Load())
	assert.Equal(t, 1, cache.cache.Len())

	require.NoError(t, cache.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"clients"}}))
	assert.Equal(t, 0, cache.cache.Len())

	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"clients"}, g.Pages)
	assert.Equal(t, int32(2), backend.gets.Load())
}

func TestCachedStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))
	cache := NewCachedStore(backend, 16, time.Minute, nil)

	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	g.Pages[0] = "settings"

	again, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, again.Pages)
}

func TestCachedStore_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	backend := newCountingStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))
	cache := NewCachedStore(backend, 16, time.Minute, nil)

	backend.failGet.Store(true)
	_, err := cache.Get(ctx, "alice@co.com")
	assert.Error(t, err)
	assert.Equal(t, 0, cache.cache.Len())

	backend.failGet.Store(false)
	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, g.Pages)
}

func TestCachedStore_SingleflightDeduplicates(t *testing.T) {
	ctx := context.Background()
	backend := newCountingStore()
	backend.gate = make(chan struct{})
	cache := NewCachedStore(backend, 16, time.Minute, nil)

	const callers = 8
	var started, wg sync.WaitGroup
	started.Add(callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			started.Done()
			_, err := cache.Get(ctx, "alice@co.com")
			assert.NoError(t, err)
		}()
	}
	started.Wait()

	waitForGets(t, backend, 1)
	time.Sleep(20 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	assert.Equal(t, int32(1), backend.gets.Load())
}

func TestCachedStore_Expiry(t *testing.T) {
	ctx := context.Background()
	backend := newCountingStore()
	cache := NewCachedStore(backend, 16, 10*time.Millisecond, nil)

	_, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cache.cache.Len() == 0 }, time.Second, 5*time.Millisecond)

	_, err = cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.gets.Load())
}

func TestCachedStore_LeaderCancellationDoesNotFailFollowers(t *testing.T) {
	backend := newCountingStore()
	require.NoError(t, backend.Set(context.Background(), "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))
	backend.gate = make(chan struct{})
	cache := NewCachedStore(backend, 16, time.Minute, nil)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(leaderCtx, "alice@co.com")
		leaderErr <- err
	}()
	waitForGets(t, backend, 1)

	type result struct {
		grants *access.GrantSet
		err    error
	}
	follower := make(chan result, 1)
	go func() {
		g, err := cache.Get(context.Background(), "alice@co.com")
		follower <- result{g, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(backend.gate)
	res := <-follower
	require.NoError(t, res.err)
	require.NotNil(t, res.grants)
	assert.Equal(t, []string{"tasks"}, res.grants.Pages)
	assert.Equal(t, int32(1), backend.gets.Load())
	assert.Equal(t, 1, cache.cache.Len())
}

func TestCachedStore_StaleReadDoesNotRefillAfterSet(t *testing.T) {
	ctx := context.Background()
	backend := newCountingStore()
	require.NoError(t, backend.Set(ctx, "alice@co.com", access.GrantSet{
		Pages:    []string{"clients", "dashboard"},
		Features: []string{"view_financials"},
	}))
	backend.gate = make(chan struct{})
	cache := NewCachedStore(backend, 16, time.Minute, nil)

	stale := make(chan *access.GrantSet, 1)
	go func() {
		g, err := cache.Get(ctx, "alice@co.com")
		assert.NoError(t, err)
		stale <- g
	}()
	waitForGets(t, backend, 1)

	require.NoError(t, cache.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"dashboard"}}))

	// A read that starts after the write must not join the older flight
	fresh := make(chan *access.GrantSet, 1)
	go func() {
		g, err := cache.Get(ctx, "alice@co.com")
		assert.NoError(t, err)
		fresh <- g
	}()
	waitForGets(t, backend, 2)

	close(backend.gate)
	assert.Equal(t, []string{"view_financials"}, (<-stale).Features)
	assert.Empty(t, (<-fresh).Features)

	g, err := cache.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, g.Pages)
	assert.Empty(t, g.Features)
}
