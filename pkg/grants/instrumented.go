package grants

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/gatehouse/pkg/grants")

// InstrumentedStore records metrics, spans and logs around a backend
type InstrumentedStore struct {
	next    Store
	backend string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewInstrumentedStore wraps next. backend labels metrics and spans
// ("memory", "postgres", "s3").
func NewInstrumentedStore(next Store, backend string, logger *observability.Logger, metrics *observability.Metrics) *InstrumentedStore {
	return &InstrumentedStore{
		next:    next,
		backend: backend,
		logger:  logger,
		metrics: metrics,
	}
}

// Get reads through to the backend
func (s *InstrumentedStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	ctx, span := s.start(ctx, "Get", email)
	defer span.End()

	start := time.Now()
	g, err := s.next.Get(ctx, email)
	s.finish(ctx, span, "get", email, start, err)
	if err == nil {
		span.SetAttributes(attribute.Bool("grants.found", g != nil))
	}
	return g, err
}

// Set writes through to the backend
func (s *InstrumentedStore) Set(ctx context.Context, email string, grants access.GrantSet) error {
	ctx, span := s.start(ctx, "Set", email)
	defer span.End()

	span.SetAttributes(
		attribute.Int("grants.pages", len(grants.Pages)),
		attribute.Int("grants.features", len(grants.Features)),
	)

	start := time.Now()
	err := s.next.Set(ctx, email, grants)
	s.finish(ctx, span, "set", email, start, err)
	return err
}

// Count delegates to the backend
func (s *InstrumentedStore) Count(ctx context.Context) (int, error) {
	ctx, span := s.start(ctx, "Count", "")
	defer span.End()

	start := time.Now()
	n, err := Count(ctx, s.next)
	s.finish(ctx, span, "count", "", start, err)
	return n, err
}

func (s *InstrumentedStore) start(ctx context.Context, op, email string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("grants.backend", s.backend)}
	if email != "" {
		attrs = append(attrs, attribute.String("grants.email", email))
	}
	return tracer.Start(ctx, "grants."+op, trace.WithAttributes(attrs...))
}

func (s *InstrumentedStore) finish(ctx context.Context, span trace.Span, op, email string, start time.Time, err error) {
	duration := time.Since(start)
	s.metrics.RecordStoreOperation(op, s.backend, duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		observability.UpdateLoggerWithTraceContext(ctx, s.logger).WithError(err).WithFields(map[string]interface{}{
			"operation": op,
			"backend":   s.backend,
			"email":     email,
		}).Warn("Permission store operation failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}
