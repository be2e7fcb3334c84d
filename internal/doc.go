// Package internal holds helpers private to authcore: opaque token
// generation and User-Agent summaries.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: service configuration loaded from .env and the environment
//   - httpapi: chi-based HTTP transport for cmd/authd
//   - rate: Redis fixed-window login throttling
//   - stores: Redis single-use token records
package internal
