// Package middleware adapts an [authcore.Engine] to net/http.
//
//   - [Guard] requires a valid bearer access token and stores the
//     [authcore.AuthResult] in the request context.
//   - [RequirePermissions] additionally requires every listed code.
//   - [ClientInfo] records the caller's IP and user agent for rate limiting
//     and audit.
//   - [Throttle] is a coarse per-client token bucket in front of everything.
//   - [SetRefreshCookie] and [RefreshTokenFromRequest] carry the opaque
//     refresh token in an HttpOnly cookie scoped to the refresh endpoint.
//
// Errors are written as JSON carrying the public error code from
// [authcore.ErrorCode]. Authentication decisions are delegated to the engine.
package middleware
