package audit

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the logger
	Close() error
}

// Querier is implemented by loggers that can read the trail back
type Querier interface {
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter narrows a trail query
type Filter struct {
	Target    string
	Actor     string
	EventType EventType
	Limit     int
}

// NewNopLogger returns a logger that discards every event
func NewNopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (noOpLogger) Close() error                                 { return nil }

// LogLogger writes audit events to the structured application log
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates an audit logger backed by the application logger
func NewLogLogger(logger *observability.Logger) *LogLogger {
	return &LogLogger{logger: logger.WithField("component", "audit")}
}

// Log writes one audit entry at info level, or warn for denied events
func (l *LogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"actor":      event.Actor,
		"target":     event.Target,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if changes, ok := event.Metadata["changes"]; ok {
		fields["changes"] = changes
	}
	entry := l.logger.WithFields(fields)

	msg := event.Message
	if msg == "" {
		msg = "audit event"
	}
	if event.Status == EventStatusDenied {
		entry.Warn(msg)
	} else {
		entry.Info(msg)
	}
	return nil
}

// Close is a no-op
func (l *LogLogger) Close() error {
	return nil
}
