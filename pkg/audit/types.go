package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLogout      EventType = "auth.logout"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"

	// Grant events
	EventTypeGrantsSet      EventType = "grants.set"
	EventTypeGrantsRejected EventType = "grants.rejected"

	// Impersonation events
	EventTypeViewAsStart EventType = "viewas.start"
	EventTypeViewAsStop  EventType = "viewas.stop"

	// User lifecycle events
	EventTypeUserAdd     EventType = "user.add"
	EventTypeUserApprove EventType = "user.approve"
	EventTypeUserUpdate  EventType = "user.update"
	EventTypeUserRemove  EventType = "user.remove"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is one row of the audit trail
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Status    EventStatus            `json:"status"`
	Actor     string                 `json:"actor,omitempty"`
	Target    string                 `json:"target,omitempty"`
	Message   string                 `json:"message,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ChangeDetails captures before/after values for a mutation
type ChangeDetails struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// NewEvent builds an event stamped with the current time and the request id
// carried by ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus, actor, target string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Actor:     actor,
		Target:    target,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// WithChanges records before/after values in the event metadata
func (e *Event) WithChanges(before, after interface{}) *Event {
	e.Metadata["changes"] = ChangeDetails{Before: before, After: after}
	return e
}

// WithMessage sets the human readable message
func (e *Event) WithMessage(msg string) *Event {
	e.Message = msg
	return e
}

// GrantsSet is the event for a successful full replace of a user's grants
func GrantsSet(ctx context.Context, actor, target string, before *access.GrantSet, after access.GrantSet) *Event {
	e := NewEvent(ctx, EventTypeGrantsSet, EventStatusSuccess, actor, target)
	if before == nil {
		empty := access.Empty()
		before = &empty
	}
	return e.WithChanges(before.Normalized(), after.Normalized())
}

// GrantsRejected is the event for a write refused before reaching the store
func GrantsRejected(ctx context.Context, actor, target, reason string) *Event {
	return NewEvent(ctx, EventTypeGrantsRejected, EventStatusDenied, actor, target).WithMessage(reason)
}

// ViewAs is the event for an impersonation session starting or stopping
func ViewAs(ctx context.Context, eventType EventType, actor, target string) *Event {
	return NewEvent(ctx, eventType, EventStatusSuccess, actor, target)
}
