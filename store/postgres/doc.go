// Package postgres implements store.Transactor on PostgreSQL through pgx/v5.
//
// Each unit of work is one READ COMMITTED transaction. MarkUsed is a
// conditional UPDATE, so concurrent rotations of the same refresh token
// serialize on the row lock and exactly one of them sees a changed row.
// Unique violations map to store.ErrDuplicate; connection failures,
// timeouts, serialization failures and deadlocks map to store.ErrUnavailable.
//
// The schema ships as embedded goose migrations applied by [Migrate].
// Expired refresh tokens and codes are removed by [Store.PurgeExpired].
package postgres
