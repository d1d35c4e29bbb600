// Package rate provides the Redis-backed login throttle used by the account
// engine.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key layout:
//   - <prefix>:al:<identifier>  login per identifier
//   - <prefix>:ali:<ip>         login per client IP
//
// Identifiers are lowercased before keying so "Alice" and "alice" share a
// budget.
//
// # What this package must NOT do
//
//   - Decide what counts as a failed attempt. The engine calls IncrementLogin.
//   - Be imported outside the goAccount module.
package rate
