package goAccount

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/credential"
	"github.com/MrEthical07/goAccount/email"
	internalaudit "github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/rate"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/ledger"
	"github.com/MrEthical07/goAccount/otp"
	"github.com/MrEthical07/goAccount/store"
	"github.com/MrEthical07/goAccount/txn"
)

// Engine runs every account and session flow. It is safe for concurrent use.
type Engine struct {
	config         Config
	coord          *txn.Coordinator
	hasher         credential.Hasher
	otp            *otp.Manager
	jwtManager     *jwt.Manager
	ledger         *ledger.Ledger
	rateLimiter    *rate.Limiter
	confirmLimiter *rate.Limiter
	mailer         Mailer
	names          NameCache
	logger         *slog.Logger
	audit          *internalaudit.Dispatcher
	metrics        *Metrics
	dummyHash      string
}

// Close flushes queued audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events that never reached the sink queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return nil
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot returns a point-in-time copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.coord != nil && e.jwtManager != nil
}

// Login authenticates by username or email and starts a new token family.
//
// Unknown accounts, wrong passwords, unverified emails and accounts without
// a password all fail with ErrUnauthorized. The reason is only audited.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	key := normalizeUsername(identifier)
	if key == "" || password == "" {
		return nil, validationError(map[string]string{"identifier": "required", "password": "required"})
	}
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, key, ip); err != nil {
			return nil, e.loginThrottled(ctx, key, err)
		}
	}

	var account *store.Account
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := lookupAccount(ctx, tx.Accounts(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, e.mapError(err)
	}

	hash := e.dummyHash
	if account != nil && account.PasswordHash != "" {
		hash = account.PasswordHash
	}
	ok, verifyErr := e.hasher.Verify(password, hash)

	reason := ""
	switch {
	case account == nil:
		reason = "account_not_found"
	case account.PasswordHash == "":
		reason = "no_password"
	case verifyErr != nil || !ok:
		reason = "password_mismatch"
	case !account.IsVerified:
		reason = "unverified"
	}
	if reason != "" {
		return nil, e.loginFailed(ctx, key, ip, account, reason)
	}

	if e.config.Credentials.UpgradeOnLogin {
		e.upgradeHash(ctx, account, password)
	}
	password = ""

	sess, err := e.startSession(ctx, account.ID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": key,
				"reason":     "session_start_failed",
			}
		})
		return nil, err
	}

	if e.rateLimiter != nil {
		// Limiter reset is best-effort and must not block a successful login.
		if err := e.rateLimiter.ResetLogin(ctx, key, ip); err != nil {
			e.logger.WarnContext(ctx, "goAccount: login limiter reset failed", "account_id", account.ID, "error", err)
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, sess.FamilyID, nil, func() map[string]string {
		return map[string]string{
			"identifier": key,
		}
	})
	return sess, nil
}

func (e *Engine) loginFailed(ctx context.Context, key, ip string, account *store.Account, reason string) error {
	accountID := ""
	if account != nil {
		accountID = account.ID
	}
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, key, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return e.loginThrottled(ctx, key, err)
			}
			e.logger.WarnContext(ctx, "goAccount: login limiter increment failed", "error", err)
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", ErrUnauthorized, func() map[string]string {
		return map[string]string{
			"identifier": key,
			"reason":     reason,
		}
	})
	return ErrUnauthorized
}

// loginThrottled fails closed: a limiter that cannot answer blocks the login.
func (e *Engine) loginThrottled(ctx context.Context, key string, err error) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		e.logger.ErrorContext(ctx, "goAccount: login limiter unavailable", "error", err)
		e.metricInc(MetricStoreUnavailable)
		return unavailable(err)
	}
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"identifier": key,
		}
	})
	e.emitRateLimit(ctx, "login", func() map[string]string {
		return map[string]string{
			"identifier": key,
		}
	})
	return ErrRateLimited
}

type upgradeChecker interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// upgradeHash is best-effort; a lost race with a concurrent password change
// keeps the newer hash.
func (e *Engine) upgradeHash(ctx context.Context, account *store.Account, password string) {
	checker, ok := e.hasher.(upgradeChecker)
	if !ok {
		return
	}
	needs, err := checker.NeedsUpgrade(account.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(password)
	if err != nil {
		e.logger.WarnContext(ctx, "goAccount: password hash upgrade generation failed", "account_id", account.ID)
		return
	}
	err = e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.Accounts().GetByID(ctx, account.ID)
		if err != nil {
			return err
		}
		if current.PasswordHash != account.PasswordHash {
			return nil
		}
		current.PasswordHash = upgraded
		current.UpdatedAt = time.Now().UTC()
		return tx.Accounts().Update(ctx, current)
	})
	if err != nil {
		e.logger.WarnContext(ctx, "goAccount: password hash upgrade update failed", "account_id", account.ID, "error", err)
	}
}

// Refresh rotates refreshToken and returns a new pair in the same family.
//
// Presenting a token that was already rotated revokes its whole family and
// fails with ErrUnauthorized.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.VerifyRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrUnauthorized, func() map[string]string {
			return map[string]string{
				"reason": "token_invalid",
			}
		})
		return nil, unauthorized(err)
	}
	accountID := claims.Subject

	access, next, err := e.issuePair(accountID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	rot, err := e.ledger.Rotate(ctx, refreshToken, next)
	switch {
	case errors.Is(err, ledger.ErrReuseDetected):
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, accountID, "", err, nil)
		return nil, unauthorized(err)
	case errors.Is(err, ledger.ErrInvalid):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, accountID, "", ErrUnauthorized, func() map[string]string {
			return map[string]string{
				"reason": "ledger_rejected",
			}
		})
		return nil, unauthorized(err)
	case err != nil:
		e.metricInc(MetricRefreshFailure)
		return nil, e.mapError(err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, accountID, rot.FamilyID, nil, nil)
	return newSession(access, next, rot.FamilyID), nil
}

// Logout revokes the presented refresh token. It never fails from the
// caller's point of view; backend errors are logged.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() || refreshToken == "" {
		return nil
	}
	var revoked bool
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		revoked, err = e.ledger.Revoke(ctx, tx.RefreshTokens(), refreshToken)
		return err
	})
	if err != nil {
		e.logger.WarnContext(ctx, "goAccount: logout revoke failed", "error", err)
		return nil
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, func() map[string]string {
		if revoked {
			return map[string]string{"revoked": "true"}
		}
		return map[string]string{"revoked": "false"}
	})
	return nil
}

// Authenticate verifies an access token and loads its account.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}
	}()

	claims, err := e.jwtManager.VerifyAccess(strings.TrimSpace(accessToken))
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, unauthorized(err)
	}
	profile, err := e.Profile(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricAuthenticateFailure)
			return nil, unauthorized(err)
		}
		return nil, err
	}
	return profile, nil
}

func (e *Engine) issuePair(accountID string) (access, refresh *jwt.Issued, err error) {
	access, err = e.jwtManager.IssueAccess(accountID)
	if err != nil {
		return nil, nil, internalError(err)
	}
	refresh, err = e.jwtManager.IssueRefresh(accountID)
	if err != nil {
		return nil, nil, internalError(err)
	}
	return access, refresh, nil
}

// issueSession records the first token of a new family in repo. Callers run
// it inside the transaction that produced the account state being logged in.
func (e *Engine) issueSession(ctx context.Context, repo store.RefreshTokenRepository, accountID string) (*Session, error) {
	access, refresh, err := e.issuePair(accountID)
	if err != nil {
		return nil, err
	}
	rec, err := e.ledger.Issue(ctx, repo, refresh)
	if err != nil {
		return nil, err
	}
	return newSession(access, refresh, rec.FamilyID), nil
}

func (e *Engine) startSession(ctx context.Context, accountID string) (*Session, error) {
	var sess *Session
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sess, err = e.issueSession(ctx, tx.RefreshTokens(), accountID)
		return err
	})
	if err != nil {
		return nil, e.mapError(err)
	}
	return sess, nil
}

func newSession(access, refresh *jwt.Issued, familyID string) *Session {
	return &Session{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		AccountID:        access.Subject,
		FamilyID:         familyID,
	}
}

// lookupAccount resolves key as an email when it contains '@', otherwise as
// a username.
func lookupAccount(ctx context.Context, repo store.AccountRepository, key string) (*store.Account, error) {
	if strings.Contains(key, "@") {
		return repo.GetByEmail(ctx, key)
	}
	return repo.GetByUsername(ctx, key)
}

// mapError converts component errors into the *Error union. Errors already in
// the union pass through unchanged.
func (e *Engine) mapError(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		e.metricInc(MetricStoreUnavailable)
		return unavailable(err)
	case errors.Is(err, store.ErrDuplicate):
		return withCause(ErrAccountExists, err)
	case errors.Is(err, store.ErrNotFound):
		return withCause(ErrAccountNotFound, err)
	case errors.Is(err, ledger.ErrReuseDetected), errors.Is(err, ledger.ErrInvalid):
		return unauthorized(err)
	case errors.Is(err, otp.ErrThrottled):
		return withCause(ErrCodeCooldown, err)
	case errors.Is(err, otp.ErrAttemptsExceeded), errors.Is(err, rate.ErrRateLimited):
		return withCause(ErrRateLimited, err)
	case errors.Is(err, otp.ErrNotFound), errors.Is(err, otp.ErrMismatch):
		return unauthorized(err)
	}
	e.logger.Error("goAccount: internal error", "error", err)
	return internalError(err)
}

// sendCode renders and delivers a one-time code. Delivery happens after
// commit, so a failure is logged and counted but never returned.
func (e *Engine) sendCode(ctx context.Context, accountID, to string, purpose store.Purpose, code string) {
	if e.mailer == nil {
		e.logger.WarnContext(ctx, "goAccount: code not delivered, no mailer", "account_id", accountID, "purpose", string(purpose))
		return
	}
	msg, err := email.CodeMessage(ctx, e.config.Mail.ProductName, to, purpose, code, e.otp.TTL())
	if err == nil {
		err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.WarnContext(ctx, "goAccount: code delivery failed", "account_id", accountID, "purpose", string(purpose), "error", err)
		return
	}
	e.metricInc(MetricOTPSent)
}

func (e *Engine) cacheAdd(ctx context.Context, username string) {
	if e.names == nil {
		return
	}
	if err := e.names.Add(ctx, username); err != nil {
		e.logger.WarnContext(ctx, "goAccount: username cache add failed", "error", err)
	}
}

func (e *Engine) cacheRemove(ctx context.Context, username string) {
	if e.names == nil || username == "" {
		return
	}
	if err := e.names.Remove(ctx, username); err != nil {
		e.logger.WarnContext(ctx, "goAccount: username cache remove failed", "error", err)
	}
}

// cacheTaken consults the cache first. A cache outage falls through to the
// store check, which is authoritative either way.
func (e *Engine) cacheTaken(ctx context.Context, username string) bool {
	if e.names == nil {
		return false
	}
	taken, err := e.names.IsTaken(ctx, username)
	if err != nil {
		e.logger.WarnContext(ctx, "goAccount: username cache lookup failed", "error", err)
		return false
	}
	return taken
}
