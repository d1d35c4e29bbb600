package goAccount

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccount/internal/rate"
	"github.com/MrEthical07/goAccount/otp"
	"github.com/MrEthical07/goAccount/store"
)

// checkConfirm enforces the confirmation budget of subject and the client IP
// for purpose. Like the login throttle it fails closed.
func (e *Engine) checkConfirm(ctx context.Context, purpose store.Purpose, subject string) error {
	if e.confirmLimiter == nil {
		return nil
	}
	err := e.confirmLimiter.CheckConfirm(ctx, string(purpose), subject, clientIPFromContext(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, rate.ErrRateLimited) {
		e.logger.ErrorContext(ctx, "goAccount: confirm limiter unavailable", "error", err)
		e.metricInc(MetricStoreUnavailable)
		return unavailable(err)
	}
	e.emitRateLimit(ctx, "otp_confirm", func() map[string]string {
		return map[string]string{
			"purpose": string(purpose),
		}
	})
	return ErrRateLimited
}

// confirmFailed maps the error of a rolled back confirmation and charges it.
// A wrong code costs the code one attempt, recorded in a transaction of its
// own; the guess that exhausts the budget turns into ErrRateLimited. Every
// authentication failure also counts against subject and the caller's IP.
func (e *Engine) confirmFailed(ctx context.Context, subject, accountID string, purpose store.Purpose, err error) error {
	if accountID != "" && errors.Is(err, otp.ErrMismatch) {
		missErr := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
			return e.otp.RecordMiss(ctx, tx.OTPs(), accountID, purpose)
		})
		switch {
		case errors.Is(missErr, otp.ErrAttemptsExceeded):
			e.metricInc(MetricOTPAttemptsExceeded)
			e.emitRateLimit(ctx, "otp_attempts", func() map[string]string {
				return map[string]string{
					"purpose": string(purpose),
				}
			})
			err = missErr
		case missErr != nil:
			// An uncounted guess must not look like an ordinary miss.
			e.logger.ErrorContext(ctx, "goAccount: recording code attempt failed", "account_id", accountID, "error", missErr)
			err = missErr
		}
	}

	mapped := e.mapError(err)
	if KindOf(mapped) != KindAuthentication || e.confirmLimiter == nil {
		return mapped
	}
	ierr := e.confirmLimiter.IncrementConfirm(ctx, string(purpose), subject, clientIPFromContext(ctx))
	if ierr != nil && !errors.Is(ierr, rate.ErrRateLimited) {
		e.logger.WarnContext(ctx, "goAccount: confirm limiter increment failed", "error", ierr)
	}
	return mapped
}
