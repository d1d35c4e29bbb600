// Package txn coordinates multi-record units of work. Every state change that
// spans more than one record (signup with its first code, refresh rotation,
// password reset with token revocation, account deletion with its cascade)
// goes through Coordinator.Run so that it lands atomically or not at all.
//
// # What this package must NOT do
//
//   - Retry business logic. Backends that need to retry on write conflicts do
//     so inside their own WithinTx.
//   - Swallow errors returned by the unit of work.
package txn
