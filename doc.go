// Package authcore is the authentication and resource-scoped authorization
// core of the DeusExMachina backend.
//
// The public surface is [Engine], built once with [Builder]. It registers
// and logs users in (password or Google), issues JWT access tokens and
// rotating refresh tokens backed by Redis sessions, runs the email
// verification and password reset flows, and decides per-resource
// OWNER/EDITOR/VIEWER permissions.
//
// # Architecture boundaries
//
// Storage is behind the account.Store and permission.Store contracts (see
// store/memory and store/postgres). Sessions and single-use tokens live in
// Redis. Emails go out through an [EmailNotifier] on a bounded worker pool,
// so a slow mail pipeline never blocks a request.
//
// # Errors
//
// Every Engine method returns one of the sentinels in errors.go, possibly
// wrapped. Infrastructure faults wrap [ErrInternal]; everything else means
// the request was rejected.
//
// # Concurrency
//
// Engine methods are safe for concurrent use after Build. Every
// read-modify-write goes through an atomic store primitive
// (MutateSecurity, InTx or Rotate).
package authcore
