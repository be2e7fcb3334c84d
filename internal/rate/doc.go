// Package rate implements Redis fixed-window counters used to throttle login
// and refresh attempts.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Keys under the configured
// prefix:
//   - <prefix>:le:<sha256(email)>  failed logins per email
//   - <prefix>:li:<ip>             failed logins per client IP
//   - <prefix>:rs:<sessionID>      refreshes per session
//
// Lockout policy (per-account failure counts, lockout deadlines) lives in the
// account store, not here.
package rate
