// Package middleware adapts engine token validation and permission checks to
// net/http.
//
//   - [RequireAuth] verifies the bearer access token and stores its claims.
//   - [RequireAction] gates a route on a per-resource action.
//
// Neither parses tokens nor touches storage itself; all decisions come from
// the engine.
package middleware
