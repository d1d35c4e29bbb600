// Package goAccount provides an account and session engine: password
// signup with email verification, login by username or email, rotating
// refresh tokens with reuse detection, password reset, guest accounts,
// external identity login, and account deletion confirmed by one-time code.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goAccount is the public surface. It exposes [Engine], [Builder], [Config]
// and value types ([Session], [Profile], [MetricsSnapshot]). Persistence is
// injected as a store.Transactor; Redis, mail delivery and the username cache
// are optional collaborators. Every multi-record change runs in one unit of
// work through the txn package, so a flow either fully applies or leaves no
// trace.
//
// # Errors
//
// Every flow returns nil or an [*Error]. Use errors.Is against the Kind
// sentinels ([ErrValidation], [ErrConflict], ...) or the specific values
// ([ErrUsernameTaken], [ErrCodeCooldown], ...). Authentication failures are
// always [ErrUnauthorized]; the underlying reason is only audited.
//
// # What this package must NOT do
//
//   - Persist or log plaintext passwords, one-time codes or refresh tokens.
//   - Return mail or cache failures to callers once a unit of work committed.
//   - Import any sub-package that re-imports goAccount (no import cycles).
package goAccount
