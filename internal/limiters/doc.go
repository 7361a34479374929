// Package limiters turns the generic counters of internal/rate into the
// throttles the engine actually enforces.
//
// # Limiters
//
//   - [LoginLimiter]: per-IP and per-email login budgets with a soft lockout.
//     Either identity being locked or over budget denies the attempt.
//   - [EndpointLimiter]: one fixed-window policy per public scope
//     (register, verify email, resend OTP, reset and change password).
//
// Denials are reported as [*Denied] so callers can surface Retry-After.
// All limiters are nil-safe: a nil receiver allows everything.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package except internal/rate.
//   - Decide what a denial means for the account. Flows decide consequences.
package limiters
