// Package viewas implements "View As": a system administrator temporarily
// experiences the portal as another identity.
//
// # State machine
//
//	Idle --StartViewingAs--> Loading --fetch done--> Active --StopViewingAs--> Idle
//
// StartViewingAs may be called from any state and replaces the target. A
// failed or empty fetch still reaches Active, with no permissions. System
// administrator status is never carried over to the effective identity.
//
// # Usage Example
//
//	imp := viewas.New(store, evaluator, logger, viewas.WithMetrics(metrics))
//	defer imp.Close()
//
//	_ = imp.StartViewingAs(identity.Identity{Email: "bob@co.com", Role: identity.RoleHRManager})
//	_ = imp.Wait(ctx)
//	imp.EffectiveHasPermission("approve_time_off", true) // false: bob has no grants
package viewas
