package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/MrEthical07/goAccount/store"
)

// classify maps driver errors onto the store sentinels. Unavailable errors
// keep the driver error in the chain so WithTransaction still sees its labels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, duplicateField(err.Error()))
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		mongo.IsTimeout(err) ||
		mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

// duplicateField reads the index name out of an E11000 message.
func duplicateField(msg string) string {
	switch {
	case strings.Contains(msg, "accounts_username"):
		return "username"
	case strings.Contains(msg, "accounts_email"):
		return "email"
	case strings.Contains(msg, collIdentities):
		return "identity"
	case strings.Contains(msg, "refresh_tokens_token_hash"):
		return "token_hash"
	case strings.Contains(msg, "otp_codes_account_purpose"):
		return "otp"
	}
	return "key"
}
