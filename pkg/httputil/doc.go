// Package httputil provides the JSON response, request parsing and small
// middleware helpers shared by the session, admin and health handlers.
//
// Error bodies always have the shape {"error": "...", "code": "..."}, where
// code is omitted unless the handler has a stable reason to report:
//
//	httputil.WriteCodedError(w, http.StatusForbidden, "system_admin_immutable", msg)
//
// Middlewares compose with Chain, outermost first:
//
//	handler = httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
