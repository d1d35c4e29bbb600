package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/store"
	"github.com/MrEthical07/goAccount/store/memory"
)

type failingTransactor struct{ err error }

func (f failingTransactor) WithinTx(context.Context, func(context.Context, store.Tx) error) error {
	return f.err
}

func TestRunCommitsAllOrNothing(t *testing.T) {
	s := memory.New()
	c, err := New(s, Config{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx := context.Background()
	boom := errors.New("boom")

	err = c.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Accounts().Create(ctx, &store.Account{ID: "a1", Username: "alice", Email: "a@example.com"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected unit error to surface, got %v", err)
	}

	err = c.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Accounts().GetByID(ctx, "a1")
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected rolled back account to be absent, got %v", err)
	}

	err = c.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Accounts().Create(ctx, &store.Account{ID: "a1", Username: "alice", Email: "a@example.com"}); err != nil {
			return err
		}
		return tx.OTPs().Insert(ctx, &store.OTP{ID: "o1", AccountID: "a1", Purpose: store.PurposeEmailVerify, ExpiresAt: time.Now().Add(time.Minute)})
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	err = c.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.OTPs().GetActive(ctx, "a1", store.PurposeEmailVerify, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("expected committed code, got %v", err)
	}
}

func TestRunTimeoutIsUnavailable(t *testing.T) {
	c, err := New(memory.New(), Config{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	err = c.Run(context.Background(), func(ctx context.Context, tx store.Tx) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected error to wrap store.ErrUnavailable, got %v", err)
	}
}

func TestRunBackendOutageIsUnavailable(t *testing.T) {
	c, err := New(failingTransactor{err: store.ErrUnavailable}, Config{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	err = c.Run(context.Background(), func(context.Context, store.Tx) error { return nil })
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRunCallerCancellation(t *testing.T) {
	c, err := New(memory.New(), Config{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = c.Run(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("expected unit not to run on canceled context")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected nil transactor to be rejected")
	}
	if _, err := New(memory.New(), Config{Timeout: -time.Second}); err == nil {
		t.Fatal("expected negative timeout to be rejected")
	}
}
