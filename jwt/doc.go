// Package jwt issues and verifies the HS256 access and refresh tokens of the
// auth service.
//
// Access tokens carry iss, aud, sub, iat, exp, jti, email, email_verified,
// auth_provider and roles plus extra claims drawn from the closed [ClaimValue]
// union. Refresh tokens carry iss, aud, sub, iat, exp, jti, session_id and
// type="refresh". Each verifier rejects the other kind.
//
// # What this package must NOT do
//
//   - Persist tokens. [HashToken] gives stores a lookup key instead.
//   - Accept any algorithm other than HS256.
package jwt
