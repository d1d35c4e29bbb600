package goAccount

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/otp"
	"github.com/MrEthical07/goAccount/store"
)

// VerifyEmail consumes the EMAIL_VERIFY code of the account registered under
// address, marks it verified and logs it in, all in one transaction.
func (e *Engine) VerifyEmail(ctx context.Context, address, code string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	address = normalizeEmail(address)
	code = strings.TrimSpace(code)
	if address == "" || code == "" {
		return nil, validationError(map[string]string{"email": "required", "code": "required"})
	}
	if err := e.checkConfirm(ctx, store.PurposeEmailVerify, address); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerifyFailure, false, "", "", err, nil)
		return nil, err
	}

	var (
		accountID string
		sess      *Session
	)
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.Accounts().GetByEmail(ctx, address)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return unauthorized(err)
			}
			return err
		}
		accountID = account.ID
		if account.IsVerified {
			return ErrAlreadyVerified
		}

		rec, err := e.otp.Consume(ctx, tx.OTPs(), account.ID, store.PurposeEmailVerify, code)
		if err != nil {
			return err
		}
		account.IsVerified = true
		account.UpdatedAt = time.Now().UTC()
		if err := tx.Accounts().Update(ctx, account); err != nil {
			return err
		}
		if err := tx.OTPs().Delete(ctx, rec.ID); err != nil {
			return err
		}

		sess, err = e.issueSession(ctx, tx.RefreshTokens(), account.ID)
		return err
	})
	if err != nil {
		err = e.confirmFailed(ctx, address, accountID, store.PurposeEmailVerify, err)
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerifyFailure, false, accountID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerifySuccess, true, accountID, sess.FamilyID, nil, nil)
	return sess, nil
}

// ResendOTP issues a fresh EMAIL_VERIFY or PASSWORD_RESET code. An unknown
// address reports ResendSent without sending anything.
func (e *Engine) ResendOTP(ctx context.Context, address string, purpose store.Purpose) (ResendOutcome, error) {
	if !e.ready() {
		return ResendSent, ErrEngineNotReady
	}
	if purpose != store.PurposeEmailVerify && purpose != store.PurposePasswordReset {
		return ResendSent, validationError(map[string]string{"purpose": "must be EMAIL_VERIFY or PASSWORD_RESET"})
	}
	address = normalizeEmail(address)
	fields := map[string]string{}
	checkEmail(fields, address)
	if len(fields) > 0 {
		return ResendSent, validationError(fields)
	}

	var (
		outcome   = ResendSent
		accountID string
		code      string
	)
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.Accounts().GetByEmail(ctx, address)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if account.IsGuest {
			return nil
		}
		if purpose == store.PurposeEmailVerify && account.IsVerified {
			outcome = ResendAlreadyVerified
			return nil
		}
		c, err := e.otp.Issue(ctx, tx.OTPs(), account.ID, purpose)
		if err != nil {
			return err
		}
		accountID, code = account.ID, c
		return nil
	})
	if err != nil {
		if errors.Is(err, otp.ErrThrottled) {
			e.metricInc(MetricOTPThrottled)
			e.emitRateLimit(ctx, "otp_resend", func() map[string]string {
				return map[string]string{
					"purpose": string(purpose),
				}
			})
		}
		return ResendSent, e.mapError(err)
	}

	if code == "" {
		if outcome == ResendSent {
			_ = sleepEnumerationDelay(ctx)
		}
		return outcome, nil
	}

	e.sendCode(ctx, accountID, address, purpose, code)
	e.emitAudit(ctx, auditEventOTPIssued, true, accountID, "", nil, func() map[string]string {
		return map[string]string{
			"purpose": string(purpose),
		}
	})
	return ResendSent, nil
}

// sleepEnumerationDelay pads responses that did no work so they are harder
// to tell apart from ones that rendered and sent a mail.
func sleepEnumerationDelay(ctx context.Context) error {
	minMs := int64(20)
	maxMs := int64(40)
	span := maxMs - minMs + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return err
	}

	delay := time.Duration(minMs+n.Int64()) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
