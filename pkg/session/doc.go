// Package session holds signed-in users and answers "what can the current
// effective identity see and do?".
//
// A Session is created by Manager.Open at sign-in. It loads the user's own
// grants once, failing closed to no permissions when the store is down, and
// owns a viewas.Impersonator. Page and feature checks consult the
// impersonator first, so while a system administrator is viewing as someone
// else every answer comes from that person's grants.
//
// # HTTP
//
//	POST   /auth/login
//	GET    /auth/callback
//	POST   /auth/logout
//	GET    /session
//	POST   /session/view-as                    {"email": "bob@co.com"}
//	DELETE /session/view-as
//	GET    /session/access/pages/{page}
//	GET    /session/access/features/{feature}
//
// The session id travels in the gatehouse_session cookie or the X-Session-ID
// header.
package session
