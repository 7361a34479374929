// Package internal holds small helpers private to authcore: opaque token
// generation and hashing, and numeric one-time code generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - config: daemon configuration loading (yaml, .env, environment)
//   - flows: login, refresh, logout and password orchestration
//   - httpapi: JSON HTTP surface for cmd/authcored
//   - ids: ULID identifiers for tokens, families and roles
//   - limiters: login and endpoint throttles built on rate
//   - logging: slog construction for the daemon
//   - rate: Redis-backed fixed window counters with lockout
//   - stores: Redis records for OTPs and the access token blacklist
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
