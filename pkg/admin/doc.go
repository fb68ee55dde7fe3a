// Package admin implements permission administration: reading and replacing
// a user's grant document, the derived bulk edits, and the user lifecycle
// (add, approve, update, remove).
//
// Writes that target an allow-listed system administrator are refused with
// ErrSystemAdminImmutable before any store is touched. The refusal is
// audited and counted, and the HTTP layer reports it as 403 with code
// "system_admin_immutable".
//
// All routes live under /admin and require a signed-in system administrator.
// The acting user is always the real identity of the session, even while
// viewing as someone else.
package admin
