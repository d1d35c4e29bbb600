// Package credential hashes and verifies passwords, one-time codes and
// refresh-token secrets.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Bcrypt hashes use the standard $2a$ modular format. Refresh tokens use a
// [Digest]: an HMAC-SHA256 keyed by a server pepper, hex encoded.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length,
// character classes) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets. Callers supply plaintext and receive hashes.
//   - Log plaintext secrets or hash parameters at runtime.
package credential
