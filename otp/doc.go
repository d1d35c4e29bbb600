// Package otp issues and checks numeric one-time codes scoped to an
// (account, purpose) pair.
//
// Codes are stored hashed, expire after a TTL, and cannot be re-requested
// inside a resend cooldown. At most one code per pair is active: issuing a
// new one deletes the previous one in the same transaction.
//
// # What this package must NOT do
//
//   - Open transactions. Callers pass the repository bound to their unit of
//     work so that issuing or consuming a code commits together with the
//     state change it belongs to.
//   - Delete a code on successful Consume.
package otp
