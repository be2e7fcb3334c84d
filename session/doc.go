// Package session provides Redis-backed persistence for refresh-token
// sessions.
//
// # Binary encoding
//
// Sessions are stored as a compact versioned binary record (see [Encode]).
// Only the SHA-256 hash of a refresh token is ever persisted.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does not
// interpret JWTs or enforce login policy; those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission.
//   - Store plaintext refresh tokens.
package session
