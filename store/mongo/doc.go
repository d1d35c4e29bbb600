// Package mongo implements store.Transactor on MongoDB with the v2 driver.
//
// Units of work run inside a session transaction, so the deployment must be
// a replica set or sharded cluster. The driver retries the whole callback on
// transient transaction errors such as write conflicts; callbacks therefore
// must not keep side effects outside the transaction.
//
// Collections: accounts, account_identities, refresh_tokens, otp_codes.
// [EnsureIndexes] creates the unique indexes that back store.ErrDuplicate
// and the TTL indexes that expire refresh tokens and codes.
package mongo
