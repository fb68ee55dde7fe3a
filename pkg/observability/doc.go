// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and shutdown coordination for
// gatehouse.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	logger.WithField("email", email).Info("grant set written")
//
// Handlers should log through FromContext so request and session ids are
// attached automatically.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordAccessCheck("page", allowed, viewingAs)
//	metrics.ViewAsActive.Inc()
//
// All Record helpers accept a nil *Metrics so library code can run without
// instrumentation.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	tp, err := observability.InitOTel(ctx, cfg.OTel, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
package observability
