// Package middleware adapts goAccount access tokens to net/http.
//
// [Guard] reads the Authorization bearer token, calls
// Engine.Authenticate and stores the resulting profile in the request
// context. [RequireVerified] and [RequireRegistered] narrow the guard for
// routes that must not serve unverified or guest accounts.
//
// The package never parses tokens itself and makes no decision beyond
// pass or reject.
package middleware
