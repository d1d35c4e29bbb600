package goAccount

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/otp"
	"github.com/MrEthical07/goAccount/store"
)

// ForgotPassword emails a PASSWORD_RESET code when identifier (username or
// email) matches a non-guest account. It succeeds whether or not one does,
// and swallows the resend cooldown so that neither reveals the account.
func (e *Engine) ForgotPassword(ctx context.Context, identifier string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	key := normalizeUsername(identifier)
	if key == "" {
		return validationError(map[string]string{"identifier": "required"})
	}

	var (
		accountID string
		address   string
		code      string
	)
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := lookupAccount(ctx, tx.Accounts(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if account.IsGuest {
			return nil
		}
		c, err := e.otp.Issue(ctx, tx.OTPs(), account.ID, store.PurposePasswordReset)
		if err != nil {
			return err
		}
		accountID, address, code = account.ID, account.Email, c
		return nil
	})
	switch {
	case errors.Is(err, otp.ErrThrottled):
		e.metricInc(MetricOTPThrottled)
		e.emitRateLimit(ctx, "password_reset_request", nil)
	case err != nil:
		return e.mapError(err)
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, accountID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": key,
		}
	})
	if code == "" {
		_ = sleepEnumerationDelay(ctx)
		return nil
	}
	e.sendCode(ctx, accountID, address, store.PurposePasswordReset, code)
	return nil
}

// ResetPassword consumes the PASSWORD_RESET code, replaces the password and
// revokes every refresh token of the account in one transaction.
func (e *Engine) ResetPassword(ctx context.Context, identifier, code, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	key := normalizeUsername(identifier)
	code = strings.TrimSpace(code)

	fields := map[string]string{}
	if key == "" {
		fields["identifier"] = "required"
	}
	if code == "" {
		fields["code"] = "required"
	}
	e.checkPassword(fields, newPassword)
	if len(fields) > 0 {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return validationError(fields)
	}
	if err := e.checkConfirm(ctx, store.PurposePasswordReset, key); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", err, nil)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	newPassword = ""
	if err != nil {
		return internalError(err)
	}

	var (
		account   *store.Account
		accountID string
		revoked   int64
	)
	err = e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := lookupAccount(ctx, tx.Accounts(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return unauthorized(err)
			}
			return err
		}
		accountID = a.ID
		rec, err := e.otp.Consume(ctx, tx.OTPs(), a.ID, store.PurposePasswordReset, code)
		if err != nil {
			return err
		}

		a.PasswordHash = hash
		a.UpdatedAt = time.Now().UTC()
		if err := tx.Accounts().Update(ctx, a); err != nil {
			return err
		}
		if err := tx.OTPs().Delete(ctx, rec.ID); err != nil {
			return err
		}
		revoked, err = e.ledger.RevokeAll(ctx, tx.RefreshTokens(), a.ID)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		err = e.confirmFailed(ctx, key, accountID, store.PurposePasswordReset, err)
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, accountID, "", err, nil)
		return err
	}

	if e.rateLimiter != nil {
		ip := clientIPFromContext(ctx)
		for _, id := range []string{account.Username, account.Email} {
			// Limiter reset is best-effort and must not fail a completed reset.
			if err := e.rateLimiter.ResetLogin(ctx, id, ip); err != nil {
				e.logger.WarnContext(ctx, "goAccount: login limiter reset failed after password reset", "account_id", account.ID, "error", err)
			}
		}
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{
			"revoked_tokens": formatInt(revoked),
		}
	})
	return nil
}
