// Package audit dispatches security events (logins, refresh reuse, OTP
// lockouts, role and permission changes) to pluggable sinks.
//
// [Dispatcher] is a buffered asynchronous relay. With DropIfFull set, a full
// buffer drops the event and counts it instead of blocking the request path.
//
// This package does not decide which events are emitted; the engine does.
// It must not import authcore.
package audit
