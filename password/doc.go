// Package password hashes and verifies account passwords.
//
// # Output format
//
// New digests are Argon2id in PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// Legacy bcrypt digests ($2a$, $2b$, $2y$) still verify. [Hasher.NeedsUpgrade]
// returns true for them and for Argon2id digests with weaker parameters, so
// the caller can rehash after the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Length policy and
// same-password checks belong to the engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other kennelguard package.
//   - Report a wrong password as an error. Mismatch is (false, nil).
package password
