//go:build integration

package grants

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/schema"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gatehouse_test"),
		postgres.WithUsername("gatehouse"),
		postgres.WithPassword("gatehouse_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, schema.RunMigrations(ctx, db, observability.NewNopLogger()))
	return db
}

func TestSQLStore_Postgres(t *testing.T) {
	db := setupPostgres(t)
	store := NewSQLStore(db)
	ctx := WithActor(context.Background(), "root@co.com")

	g, err := store.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Nil(t, g)

	require.NoError(t, store.Set(ctx, "Alice@co.com", access.GrantSet{Pages: []string{"tasks"}, Features: []string{"export_reports"}}))
	require.NoError(t, store.Set(ctx, "alice@co.com", access.GrantSet{Pages: []string{"dashboard"}}))

	g, err = store.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, g.Pages)
	assert.Empty(t, g.Features)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLStore_PostgresConcurrentWritesLastWins(t *testing.T) {
	db := setupPostgres(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, page := range []string{"tasks", "clients", "reports", "team"} {
		wg.Add(1)
		go func(page string) {
			defer wg.Done()
			assert.NoError(t, store.Set(ctx, "bob@co.com", access.GrantSet{Pages: []string{page}}))
		}(page)
	}
	wg.Wait()

	g, err := store.Get(ctx, "bob@co.com")
	require.NoError(t, err)
	require.Len(t, g.Pages, 1, "writes are full replacements, never merges")
}
