// Package async runs background work with panic recovery and a deadline.
//
// Use Go instead of a bare go statement for work that must not take the
// process down, such as metrics refreshes started at boot.
package async
