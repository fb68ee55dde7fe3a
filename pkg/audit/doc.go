// Package audit records the trail of grant changes, rejected writes, user
// lifecycle changes and View As sessions.
//
// # Loggers
//
// DBLogger writes to the audit_events table and can be queried back.
// LogLogger writes to the structured application log. MultiLogger fans out
// to several destinations.
//
// # Usage Example
//
//	trail := audit.NewMultiLogger(dbLogger, audit.NewLogLogger(logger))
//	trail.Log(ctx, audit.GrantsSet(ctx, actor, target, before, after))
package audit
