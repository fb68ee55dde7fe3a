package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/admin"
	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const maxRequestBytes = 1 << 20

func main() {
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *configCheck {
		fmt.Println("Configuration OK")
		return
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("version", version)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Gatehouse stopped with error")
		os.Exit(1)
	}
	logger.Info("Gatehouse stopped")
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tp != nil {
		shutdown.Register("tracing", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, tp, logger)
		})
	}

	b, err := openBackends(ctx, cfg.Store, logger, metrics, shutdown)
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}
	attachWebhook(b, cfg.Audit, logger, metrics)

	evaluator, watcher, err := newEvaluator(cfg.Access.CatalogPath, logger)
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}

	authenticator, err := newAuthenticator(ctx, cfg.Auth)
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}

	resolver := identity.NewResolver(identity.NewAdminAllowList(cfg.Access.SystemAdmins...), b.profiles, logger)
	manager := session.NewManager(session.Config{
		MaxSessions:  cfg.Access.MaxSessions,
		TTL:          cfg.Access.SessionTTL,
		FetchTimeout: cfg.Access.FetchTimeout,
	}, resolver, b.grants, evaluator, b.trail, logger, metrics)
	shutdown.Register("sessions", func(context.Context) error {
		manager.CloseAll()
		return nil
	})

	router := mux.NewRouter()
	session.NewHandlers(manager, authenticator, cfg.Auth.CookieSecure).RegisterRoutes(router)
	admin.NewHandlers(admin.NewService(b.grants, resolver, evaluator, b.trail, logger, metrics)).RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		observability.RequestLogger(logger),
		observability.RecoveryMiddleware(logger),
		metrics.HTTPMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBytes),
		httputil.ContentTypeMiddleware,
		manager.Middleware,
		newRateLimiter(cfg.Server, b.redis, logger, metrics).Handler,
	)(router)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "gatehouse"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(b.db, b.redis, version))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	if cfg.Access.StatsSchedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.Access.StatsSchedule, func() {
			defer observability.RecoverPanic(logger, "grant statistics job")
			recordGrantStats(ctx, b.grants, metrics, logger)
		}); err != nil {
			_ = shutdown.Shutdown(context.Background())
			return fmt.Errorf("failed to schedule grant statistics: %w", err)
		}
		scheduler.Start()
		shutdown.Register("scheduler", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		async.Go(ctx, cfg.Access.FetchTimeout, "initial grant statistics", logger, func(ctx context.Context) error {
			recordGrantStats(ctx, b.grants, metrics, logger)
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := errors.Join(
			apiServer.Shutdown(shutdownCtx),
			healthServer.Shutdown(shutdownCtx),
		)
		return errors.Join(err, shutdown.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s failed: %w", srv.Addr, err)
	}
	return nil
}
