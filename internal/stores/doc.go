// Package stores provides Redis-backed, short-lived records for the
// security-sensitive parts of authcore: one-time codes and the access-token
// blacklist.
//
// # Design
//
// Every record lives under a TTL so expiry needs no cleanup job. OTP mutation
// runs inside Lua scripts: issuing checks the cooldown and replaces the record
// in one step, verification counts failures or consumes the record in one
// step. Codes are compared again in Go with a constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence and atomicity for transient records. It does
// NOT generate codes, enforce generation budgets, or make authentication
// decisions. Those belong to the otp package and internal/flows.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Log or expose plaintext codes.
//   - Use non-constant-time comparisons for secret matching.
package stores
