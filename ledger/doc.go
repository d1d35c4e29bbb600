// Package ledger keeps the persisted record of every refresh token and
// enforces rotation: each token is exchanged at most once, the replacement
// joins the same family, and presenting a token a second time revokes the
// entire family.
//
// Only a keyed digest of each token is stored. The digest is deterministic so
// lookups hit a unique index directly.
//
// # Architecture boundaries
//
// Rotate runs its own transaction because a detected reuse must commit the
// family revocation while still failing the request. Issue, Revoke, RevokeAll
// and Purge take the repository of the caller's transaction.
//
// # What this package must NOT do
//
//   - Sign or verify tokens. Callers verify the presented token and mint the
//     replacement with package jwt before calling Rotate.
//   - Allow a grace window for reuse.
package ledger
