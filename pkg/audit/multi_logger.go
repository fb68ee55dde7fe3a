package audit

import (
	"context"
	"errors"
)

// MultiLogger logs to multiple audit loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every destination in order
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes the event to all loggers, continuing past failures, and returns
// the first error
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Query delegates to the first logger that can read the trail
func (m *MultiLogger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	for _, logger := range m.loggers {
		if q, ok := logger.(Querier); ok {
			return q.Query(ctx, filter)
		}
	}
	return nil, ErrQueryUnsupported
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrQueryUnsupported is returned when no configured logger can be queried
var ErrQueryUnsupported = errors.New("audit: query not supported")
