// Package stores provides the Redis-backed store for single-use tokens used
// by email verification and password reset.
//
// # Design
//
// A token record is a versioned binary blob stored under the SHA-256 of the
// raw token with a Redis TTL equal to the token lifetime, so outstanding
// tokens survive restarts and are shared by every instance. Consume is a
// WATCH/MULTI transaction with retry; the key is deleted before the record is
// inspected, making every token single-use.
//
// # What this package must NOT do
//
//   - Import authcore.
//   - Log or persist raw tokens.
package stores
