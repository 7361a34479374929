// Package rate is the generic counter service behind every throttle in authcore.
//
// # Window semantics
//
//   - [FixedWindow]: one INCR per request, PEXPIRE set on the first hit of the
//     window. Both run inside a single Lua call so a crashed client never leaves
//     an immortal counter behind.
//   - [SlidingWindow]: a sorted-set log of request timestamps trimmed to the
//     trailing window on every call.
//
// Key layout (under the configured prefix):
//
//   - rl:{scope}:{key}   request counter or log
//   - lk:{scope}:{key}   lockout marker, value is irrelevant, TTL is the lockout
//
// # What this package must NOT do
//
//   - Know about logins, OTPs, or any other auth semantics. Policy lives in
//     internal/limiters and in the otp package.
//   - Be imported outside the authcore module.
package rate
