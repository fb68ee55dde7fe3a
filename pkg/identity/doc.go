// Package identity models portal users and resolves the real authenticated
// identity.
//
// Emails are the only key. They are normalized once with NormalizeEmail and
// used in that form everywhere else. System Administrator status comes from
// the AdminAllowList, not from a stored role: an allow-listed email is an
// admin even when no profile exists.
//
// Lifecycle of a profile:
//
//	unknown --sign-in--> pending --approve--> approved --remove--> removed
//	                      (admin add creates approved directly)
//
// Removal is a soft delete; sessions that were already open keep running
// until they expire or log out.
package identity
