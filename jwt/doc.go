// Package jwt issues and verifies the signed access and refresh tokens handed
// to clients. Every token carries sub, typ, iss, aud, iat, exp and a unique
// jti; verification pins the configured algorithm and rejects tokens of the
// wrong type.
//
// # What this package must NOT do
//
//   - Persist anything. Refresh token bookkeeping lives in package ledger.
//   - Decide account state. A valid signature proves only who the token
//     was issued to.
package jwt
