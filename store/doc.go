// Package store defines the persistence contracts for accounts, refresh tokens
// and one-time codes.
//
// # Architecture boundaries
//
// Backends live in sub-packages (memory, mongo, postgres) and implement
// [Transactor]. Every mutation a flow performs goes through the [Tx] handed to
// the callback, so a unit of work either applies fully or not at all.
//
// # What this package must NOT do
//
//   - Hash, generate or validate secrets. Records arrive already hashed.
//   - Decide policy (cooldowns, reuse handling). Repositories only store and
//     compare-and-set.
package store
