package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/grants"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/ratelimit"
	"github.com/platinummonkey/gatehouse/pkg/schema"
	"github.com/platinummonkey/gatehouse/pkg/webhooks"
)

// backends holds the opened storage dependencies
type backends struct {
	db       *sql.DB
	redis    *redis.Client
	grants   grants.Store
	profiles identity.ProfileStore
	trail    audit.Logger
}

// openBackends builds the grant store stack, outermost first:
// per-process LRU -> Redis -> instrumentation -> memory|postgres|s3.
// Postgres, when configured, also holds profiles and the audit trail.
func openBackends(ctx context.Context, cfg config.StoreConfig, logger *observability.Logger, metrics *observability.Metrics, shutdown *observability.ShutdownManager) (*backends, error) {
	b := &backends{}

	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := schema.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
		shutdown.Register("database", func(context.Context) error { return db.Close() })
		b.db = db
	}

	var store grants.Store
	switch cfg.Type {
	case config.StorePostgres:
		store = grants.NewSQLStore(b.db)
	case config.StoreS3:
		client, err := grants.NewS3Client(ctx, grants.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			Prefix:       cfg.S3Prefix,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		store = grants.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
	default:
		logger.Warn("Using in-memory grant store; grants are lost on restart")
		store = grants.NewMemoryStore()
	}
	store = grants.NewInstrumentedStore(store, cfg.Type, logger, metrics)

	if cfg.RedisURL != "" {
		client, err := grants.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		shutdown.Register("redis", func(context.Context) error { return client.Close() })
		b.redis = client
		store = grants.NewRedisCache(store, client, cfg.RedisTTL, logger, metrics)
	}
	if cfg.CacheSize > 0 {
		store = grants.NewCachedStore(store, cfg.CacheSize, cfg.CacheTTL, metrics)
	}
	b.grants = store

	logTrail := audit.NewLogLogger(logger.WithField("component", "audit"))
	if b.db != nil {
		b.profiles = identity.NewSQLProfileStore(b.db)
		dbTrail, err := audit.NewDBLogger(b.db)
		if err != nil {
			return nil, err
		}
		b.trail = audit.NewMultiLogger(dbTrail, logTrail)
	} else {
		logger.Warn("No database configured; profiles are kept in memory")
		b.profiles = identity.NewMemoryProfileStore()
		b.trail = logTrail
	}
	shutdown.Register("audit", func(context.Context) error { return b.trail.Close() })

	return b, nil
}

// attachWebhook adds the audit webhook to the trail when one is configured.
// The trail's shutdown hook closes it with the rest.
func attachWebhook(b *backends, cfg config.AuditConfig, logger *observability.Logger, metrics *observability.Metrics) {
	if cfg.WebhookURL == "" {
		return
	}
	events := make([]audit.EventType, 0, len(cfg.WebhookEvents))
	for _, e := range cfg.WebhookEvents {
		events = append(events, audit.EventType(e))
	}
	retry := webhooks.DefaultRetryConfig()
	retry.MaxAttempts = cfg.WebhookMaxAttempts

	notifier := webhooks.NewNotifier(webhooks.Config{
		URL:     cfg.WebhookURL,
		Secret:  cfg.WebhookSecret,
		Events:  events,
		Timeout: cfg.WebhookTimeout,
		Retry:   retry,
	}, nil, logger, metrics)
	b.trail = audit.NewMultiLogger(b.trail, notifier)
	logger.WithField("url", cfg.WebhookURL).Info("Audit webhook enabled")
}

// newEvaluator loads the catalog file when one is configured and watches it
// for edits. The watcher is nil when the embedded catalog is used.
func newEvaluator(path string, logger *observability.Logger) (*access.Evaluator, *access.CatalogWatcher, error) {
	if path == "" {
		return access.NewEvaluator(nil), nil, nil
	}
	catalog, err := access.LoadCatalog(path)
	if err != nil {
		return nil, nil, err
	}
	evaluator := access.NewEvaluator(catalog)
	watcher, err := access.NewCatalogWatcher(path, evaluator, logger)
	if err != nil {
		return nil, nil, err
	}
	return evaluator, watcher, nil
}

func newAuthenticator(ctx context.Context, cfg config.AuthConfig) (auth.Authenticator, error) {
	if cfg.Mode != config.AuthModeOIDC {
		return auth.NewHeaderAuthenticator(), nil
	}
	a, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
		IssuerURL:    cfg.OIDCIssuer,
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		RedirectURL:  cfg.OIDCRedirectURL,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRateLimiter shares budgets through Redis when it is configured. A
// configured rate other than the default gets a burst of a tenth of it.
func newRateLimiter(cfg config.ServerConfig, client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *ratelimit.Middleware {
	limiter := func(base ratelimit.Config, perMinute int, prefix string) ratelimit.Limiter {
		if perMinute <= 0 {
			return nil
		}
		rc := base
		if perMinute != base.RequestsPerWindow {
			rc.RequestsPerWindow = perMinute
			rc.BurstSize = perMinute / 10
		}
		if client != nil {
			return ratelimit.NewRedisLimiter(client, rc, prefix)
		}
		return ratelimit.NewMemoryLimiter(rc)
	}
	return ratelimit.NewMiddleware(
		limiter(ratelimit.SessionConfig(), cfg.RateLimitPerMinute, "gatehouse:ratelimit:user"),
		limiter(ratelimit.AnonymousConfig(), cfg.AnonymousRateLimitPerMinute, "gatehouse:ratelimit:anon"),
		logger,
		metrics,
	)
}

// recordGrantStats refreshes the stored-document gauge
func recordGrantStats(ctx context.Context, store grants.Store, metrics *observability.Metrics, logger *observability.Logger) {
	n, err := grants.Count(ctx, store)
	if err != nil {
		logger.WithError(err).Warn("Failed to count grant documents")
		return
	}
	metrics.GrantDocumentsTotal.Set(float64(n))
	logger.WithField("documents", n).Debug("Grant statistics updated")
}
