// Package redislock provides the per-token advisory lock used by
// ledger.Rotate when several API processes share one database.
package redislock
