// Package authcore is the authentication and authorization core of a
// storefront backend: short-lived JWT access tokens, rotating opaque refresh
// tokens grouped into families, role based permissions with per-user
// overrides, and one-time codes for email verification and password reset.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy with [ErrorCode], and value types such as [TokenPair]
// and [AuthResult]. Refresh token bookkeeping lives in ledger, permission
// resolution in permission, one-time codes in otp. Flow orchestration, rate
// limiting and audit dispatch live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients or store encodings in its public API.
//   - Return raw secrets (passwords, refresh tokens, codes) inside errors or
//     audit events.
//   - Import a sub-package that re-imports authcore.
//
// # Performance contract
//
// ValidateAccess is the hot path: one signature check and one blacklist
// lookup. Refresh and Login are allowed a bounded number of Redis round
// trips; the ledger retries transient failures up to Session.StoreRetries.
package authcore
