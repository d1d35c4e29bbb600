package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/goAccount/store"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, duplicateField(pgErr.ConstraintName))
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return err
	}

	// Anything that never reached the server is a connectivity problem.
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func duplicateField(constraint string) string {
	switch constraint {
	case "accounts_username_key":
		return "username"
	case "accounts_email_key":
		return "email"
	case "account_identities_pkey":
		return "identity"
	case "refresh_tokens_token_hash_key":
		return "token_hash"
	case "otp_codes_account_purpose_key":
		return "otp"
	}
	return constraint
}
