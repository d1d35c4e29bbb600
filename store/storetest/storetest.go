// Package storetest is a conformance suite for store.Transactor backends.
//
// Every backend test calls [Run] with a fresh or shared Transactor. Records
// use random ids so a shared database can be reused across runs.
package storetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goAccount/store"
)

// Run executes the full suite against s.
func Run(t *testing.T, s store.Transactor) {
	t.Helper()

	t.Run("AccountLifecycle", func(t *testing.T) { testAccountLifecycle(t, s) })
	t.Run("AccountUniqueness", func(t *testing.T) { testAccountUniqueness(t, s) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, s) })
	t.Run("RefreshTokens", func(t *testing.T) { testRefreshTokens(t, s) })
	t.Run("ConcurrentMarkUsed", func(t *testing.T) { testConcurrentMarkUsed(t, s) })
	t.Run("OTPs", func(t *testing.T) { testOTPs(t, s) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewAccount returns a unique verified account that has not been persisted.
func NewAccount() *store.Account {
	id := uuid.NewString()
	short := strings.ReplaceAll(id, "-", "")[:12]
	ts := now()
	return &store.Account{
		ID:           id,
		Username:     "user_" + short,
		Email:        short + "@example.com",
		PasswordHash: "$argon2id$stub",
		IsVerified:   true,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

func mustTx(t *testing.T, s store.Transactor, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithinTx(context.Background(), fn))
}

func createAccount(t *testing.T, s store.Transactor) *store.Account {
	t.Helper()
	a := NewAccount()
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Create(ctx, a)
	})
	return a
}

func testAccountLifecycle(t *testing.T, s store.Transactor) {
	a := NewAccount()
	a.Identities = []store.Identity{{Provider: "google", Subject: "g-" + a.ID, LinkedAt: now()}}

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Create(ctx, a)
	})

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		repo := tx.Accounts()

		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Username, got.Username)
		assert.Equal(t, a.Email, got.Email)
		assert.Equal(t, a.PasswordHash, got.PasswordHash)
		assert.True(t, got.IsVerified)
		assert.WithinDuration(t, a.CreatedAt, got.CreatedAt, time.Millisecond)
		require.Len(t, got.Identities, 1)
		assert.Equal(t, "google", got.Identities[0].Provider)

		byName, err := repo.GetByUsername(ctx, strings.ToUpper(a.Username))
		require.NoError(t, err)
		assert.Equal(t, a.ID, byName.ID)

		byEmail, err := repo.GetByEmail(ctx, a.Email)
		require.NoError(t, err)
		assert.Equal(t, a.ID, byEmail.ID)

		byIdentity, err := repo.GetByIdentity(ctx, "google", "g-"+a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, byIdentity.ID)

		_, err = repo.GetByIdentity(ctx, "microsoft", "g-"+a.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = repo.GetByEmail(ctx, "")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})

	a.Username = a.Username + "_x"
	a.OptOutAI = true
	a.Identities = append(a.Identities, store.Identity{Provider: "microsoft", Subject: "m-" + a.ID, LinkedAt: now()})
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Update(ctx, a)
	})

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.Accounts().GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Username, got.Username)
		assert.True(t, got.OptOutAI)
		assert.Len(t, got.Identities, 2)
		assert.True(t, got.HasIdentity("microsoft", "m-"+a.ID))
		return nil
	})

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Delete(ctx, a.ID)
	})
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Accounts().GetByID(ctx, a.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, tx.Accounts().Delete(ctx, a.ID), store.ErrNotFound)
		assert.ErrorIs(t, tx.Accounts().Update(ctx, a), store.ErrNotFound)
		return nil
	})
}

func testAccountUniqueness(t *testing.T, s store.Transactor) {
	a := NewAccount()
	a.Identities = []store.Identity{{Provider: "google", Subject: "g-" + a.ID, LinkedAt: now()}}
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Create(ctx, a)
	})

	sameName := NewAccount()
	sameName.Username = a.Username
	sameEmail := NewAccount()
	sameEmail.Email = a.Email
	sameIdentity := NewAccount()
	sameIdentity.Identities = []store.Identity{{Provider: "google", Subject: "g-" + a.ID, LinkedAt: now()}}

	for _, dup := range []*store.Account{sameName, sameEmail, sameIdentity} {
		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.Accounts().Create(ctx, dup)
		})
		assert.ErrorIs(t, err, store.ErrDuplicate)
	}

	b := createAccount(t, s)
	b.Email = a.Email
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Accounts().Update(ctx, b)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testRollback(t *testing.T, s store.Transactor) {
	boom := errors.New("boom")
	a := NewAccount()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Accounts().Create(ctx, a); err != nil {
			return err
		}
		if err := tx.OTPs().Insert(ctx, &store.OTP{
			ID:        uuid.NewString(),
			AccountID: a.ID,
			Purpose:   store.PurposeEmailVerify,
			CodeHash:  "h",
			SentAt:    now(),
			ExpiresAt: now().Add(time.Hour),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Accounts().GetByID(ctx, a.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.OTPs().GetActive(ctx, a.ID, store.PurposeEmailVerify, now())
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
}

func newToken(accountID, familyID string) *store.RefreshToken {
	ts := now()
	return &store.RefreshToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		FamilyID:  familyID,
		TokenHash: uuid.NewString(),
		IssuedAt:  ts,
		ExpiresAt: ts.Add(time.Hour),
	}
}

func testRefreshTokens(t *testing.T, s store.Transactor) {
	a := createAccount(t, s)
	family := uuid.NewString()
	first := newToken(a.ID, family)
	second := newToken(a.ID, family)
	other := newToken(a.ID, uuid.NewString())

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		repo := tx.RefreshTokens()
		for _, rt := range []*store.RefreshToken{first, second, other} {
			if err := repo.Insert(ctx, rt); err != nil {
				return err
			}
		}
		return nil
	})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		dup := newToken(a.ID, family)
		dup.TokenHash = first.TokenHash
		return tx.RefreshTokens().Insert(ctx, dup)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		repo := tx.RefreshTokens()

		got, err := repo.GetByHash(ctx, first.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, family, got.FamilyID)
		assert.False(t, got.IsUsed)
		assert.WithinDuration(t, first.ExpiresAt, got.ExpiresAt, time.Millisecond)

		_, err = repo.GetByHash(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		won, err := repo.MarkUsed(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, won)
		won, err = repo.MarkUsed(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, won)

		n, err := repo.RevokeByHash(ctx, second.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		won, err = repo.MarkUsed(ctx, second.ID)
		require.NoError(t, err)
		assert.False(t, won, "revoked token must not be marked used")

		n, err = repo.RevokeFamily(ctx, family)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "only the unrevoked record of the family changes")

		got, err = repo.GetByHash(ctx, other.TokenHash)
		require.NoError(t, err)
		assert.False(t, got.IsRevoked)

		n, err = repo.RevokeAllForAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = repo.DeleteAllForAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		return nil
	})
}

func testConcurrentMarkUsed(t *testing.T, s store.Transactor) {
	a := createAccount(t, s)
	rt := newToken(a.ID, uuid.NewString())
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.RefreshTokens().Insert(ctx, rt)
	})

	const workers = 8
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var won bool
			err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				var err error
				won, err = tx.RefreshTokens().MarkUsed(ctx, rt.ID)
				return err
			})
			results <- err == nil && won
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for won := range results {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func testOTPs(t *testing.T, s store.Transactor) {
	a := createAccount(t, s)
	ts := now()
	code := &store.OTP{
		ID:        uuid.NewString(),
		AccountID: a.ID,
		Purpose:   store.PurposePasswordReset,
		CodeHash:  "hash",
		SentAt:    ts,
		ExpiresAt: ts.Add(10 * time.Minute),
	}
	other := &store.OTP{
		ID:        uuid.NewString(),
		AccountID: a.ID,
		Purpose:   store.PurposeDeleteAccount,
		CodeHash:  "hash",
		SentAt:    ts,
		ExpiresAt: ts.Add(10 * time.Minute),
	}
	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.OTPs().Insert(ctx, code); err != nil {
			return err
		}
		return tx.OTPs().Insert(ctx, other)
	})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		dup := *code
		dup.ID = uuid.NewString()
		return tx.OTPs().Insert(ctx, &dup)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	mustTx(t, s, func(ctx context.Context, tx store.Tx) error {
		repo := tx.OTPs()

		got, err := repo.GetActive(ctx, a.ID, store.PurposePasswordReset, ts)
		require.NoError(t, err)
		assert.Equal(t, code.ID, got.ID)
		assert.Equal(t, "hash", got.CodeHash)
		assert.WithinDuration(t, code.SentAt, got.SentAt, time.Millisecond)
		assert.Zero(t, got.Attempts)

		for want := 1; want <= 2; want++ {
			n, err := repo.IncrementAttempts(ctx, code.ID)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
		got, err = repo.GetActive(ctx, a.ID, store.PurposePasswordReset, ts)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)
		_, err = repo.IncrementAttempts(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = repo.GetActive(ctx, a.ID, store.PurposePasswordReset, code.ExpiresAt)
		assert.ErrorIs(t, err, store.ErrNotFound, "a code is expired at its expiry instant")
		_, err = repo.GetActive(ctx, a.ID, store.PurposeEmailVerify, ts)
		assert.ErrorIs(t, err, store.ErrNotFound)

		n, err := repo.DeleteForPurpose(ctx, a.ID, store.PurposePasswordReset)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.ErrorIs(t, repo.Delete(ctx, code.ID), store.ErrNotFound)

		require.NoError(t, repo.Delete(ctx, other.ID))
		n, err = repo.DeleteAllForAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		return nil
	})
}
