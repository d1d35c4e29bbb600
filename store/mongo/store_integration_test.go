//go:build integration

package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goAccount/store"
	"github.com/MrEthical07/goAccount/store/mongo"
	"github.com/MrEthical07/goAccount/store/storetest"
)

// MONGODB_URL must point at a replica set; transactions are unavailable on a
// standalone server.
func newStore(t *testing.T) *mongo.Store {
	t.Helper()
	if os.Getenv("MONGODB_URL") == "" {
		t.Skip("MONGODB_URL not set")
	}

	var cfg mongo.Config
	require.NoError(t, env.Parse(&cfg))
	cfg.RetryAttempts = 1
	cfg.Database = "goaccount_test"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database(cfg.Database)
	require.NoError(t, mongo.EnsureIndexes(ctx, db))
	require.NoError(t, mongo.Healthcheck(client)(ctx))
	return mongo.New(db)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newStore(t))
}

func TestDeleteReleasesIdentity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := storetest.NewAccount()
	first.Identities = []store.Identity{{Provider: "google", Subject: "g-" + first.ID, LinkedAt: time.Now().UTC()}}
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Create(ctx, first)
	}))
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Delete(ctx, first.ID)
	}))

	second := storetest.NewAccount()
	second.Identities = first.Identities
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Create(ctx, second)
	}))
}

func TestPurgeExpired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	hash := uuid.NewString()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.RefreshTokens().Insert(ctx, &store.RefreshToken{
			ID: uuid.NewString(), AccountID: uuid.NewString(), FamilyID: uuid.NewString(),
			TokenHash: hash, IssuedAt: past.Add(-time.Hour), ExpiresAt: past,
		})
	}))

	purged, err := s.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, 1)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.RefreshTokens().GetByHash(ctx, hash)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestUsernames(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := storetest.NewAccount()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Create(ctx, a)
	}))

	names, err := s.Usernames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, a.Username)
}
