package grants

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func TestInstrumentedStore_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewTestMetrics()
	backend := newCountingStore()
	store := NewInstrumentedStore(backend, "memory", observability.NewNopLogger(), metrics)

	require.NoError(t, store.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"tasks"}}))
	g, err := store.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, g.Pages)

	backend.failGet.Store(true)
	_, err = store.Get(ctx, "alice@co.com")
	assert.Error(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("set", "memory", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("get", "memory", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("get", "memory", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("get", "memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("count", "memory", "success")))
}
