package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/MrEthical07/goAccount/store"
)

func TestClassify(t *testing.T) {
	dupUsername := mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: goaccount.accounts index: accounts_username dup key",
	}}}
	dupIdentity := mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: goaccount.account_identities index: _id_ dup key",
	}}}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no documents", err: mongo.ErrNoDocuments, want: store.ErrNotFound},
		{name: "duplicate username", err: dupUsername, want: store.ErrDuplicate},
		{name: "duplicate identity", err: dupIdentity, want: store.ErrDuplicate},
		{name: "deadline", err: context.DeadlineExceeded, want: store.ErrUnavailable},
		{name: "disconnected", err: mongo.ErrClientDisconnected, want: store.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	assert.EqualError(t, classify(dupIdentity), "store: duplicate record: identity")
	assert.NoError(t, classify(nil))
}

func TestClassifyKeepsUnknownErrors(t *testing.T) {
	boom := errors.New("decode failure")
	assert.Same(t, boom, classify(boom))
}

func TestDuplicateField(t *testing.T) {
	assert.Equal(t, "email", duplicateField("index: accounts_email dup key"))
	assert.Equal(t, "otp", duplicateField("index: otp_codes_account_purpose dup key"))
	assert.Equal(t, "key", duplicateField("something else"))
}
