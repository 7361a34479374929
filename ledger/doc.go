// Package ledger is the system of record for refresh tokens.
//
// Tokens form families: login creates a root, and every successful
// [Ledger.Rotate] revokes the presented token and inserts its child in the
// same atomic step. At most one token per family is live at any time.
// Presenting a revoked token again, or losing a concurrent rotation of the
// same token, is treated as theft: the whole family is revoked and a
// [*ReuseError] is returned.
//
// # Architecture boundaries
//
// The ledger owns token rows. Callers hold raw secrets only long enough to
// hand them to the client; storage sees SHA-256 hashes. [Store] implementations
// live here ([RedisStore]) and in the sqlstore package.
//
// # What this package must NOT do
//
//   - Retry Supersede or Insert. A lost acknowledgement would turn into a
//     false reuse report or a second live root.
//   - Downgrade reuse detection to a plain failure.
package ledger
