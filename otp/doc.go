// Package otp issues and verifies short numeric one-time codes for email
// verification and password reset.
//
// A [Guard] keeps one live code per (email, type). Requests are refused
// during a cooldown after the previous code, and an email that asks for too
// many codes within the trailing window is locked out for a long period.
// Verification allows a small number of wrong guesses per code; once they
// are spent the code is dead until a new one is requested. A correct guess
// consumes the code.
//
// # What this package must NOT do
//
//   - Deliver codes. Callers hand the plaintext returned by [Guard.Request]
//     to their sender and must not log it.
//   - Persist plaintext codes anywhere.
package otp
