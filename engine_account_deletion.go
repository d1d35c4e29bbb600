package goAccount

import (
	"context"
	"strconv"
	"strings"

	"github.com/MrEthical07/goAccount/store"
)

// RequestAccountDeletion emails a DELETE_ACCOUNT code to accountID.
func (e *Engine) RequestAccountDeletion(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	var (
		address string
		code    string
	)
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.Accounts().GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		c, err := e.otp.Issue(ctx, tx.OTPs(), account.ID, store.PurposeDeleteAccount)
		if err != nil {
			return err
		}
		address, code = account.Email, c
		return nil
	})
	if err != nil {
		err = e.mapError(err)
		e.emitAudit(ctx, auditEventAccountDeletionRequest, false, accountID, "", err, nil)
		return err
	}

	e.sendCode(ctx, accountID, address, store.PurposeDeleteAccount, code)
	e.emitAudit(ctx, auditEventAccountDeletionRequest, true, accountID, "", nil, nil)
	return nil
}

// DeleteAccount consumes the DELETE_ACCOUNT code and removes the account with
// its codes and refresh tokens in one transaction.
func (e *Engine) DeleteAccount(ctx context.Context, accountID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return validationError(map[string]string{"code": "required"})
	}
	if err := e.checkConfirm(ctx, store.PurposeDeleteAccount, accountID); err != nil {
		e.emitAudit(ctx, auditEventAccountDeleted, false, accountID, "", err, nil)
		return err
	}

	var (
		username string
		purged   int64
	)
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.Accounts().GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if _, err := e.otp.Consume(ctx, tx.OTPs(), account.ID, store.PurposeDeleteAccount, code); err != nil {
			return err
		}
		if _, err := tx.OTPs().DeleteAllForAccount(ctx, account.ID); err != nil {
			return err
		}
		purged, err = e.ledger.Purge(ctx, tx.RefreshTokens(), account.ID)
		if err != nil {
			return err
		}
		if err := tx.Accounts().Delete(ctx, account.ID); err != nil {
			return err
		}
		username = account.Username
		return nil
	})
	if err != nil {
		err = e.confirmFailed(ctx, accountID, accountID, store.PurposeDeleteAccount, err)
		e.emitAudit(ctx, auditEventAccountDeleted, false, accountID, "", err, nil)
		return err
	}

	e.cacheRemove(ctx, username)
	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, accountID, "", nil, func() map[string]string {
		return map[string]string{
			"purged_tokens": formatInt(purged),
		}
	})
	return nil
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
