// Package password hashes and verifies user passwords.
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies bcrypt hashes carried over from older systems and
// reports them through [Hasher.NeedsUpgrade], so callers can re-hash after
// the next successful login. Comparisons are constant time.
//
// Plaintext passwords are never stored or logged by this package.
package password
