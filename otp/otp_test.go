package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/credential"
	"github.com/MrEthical07/goAccount/store"
	"github.com/MrEthical07/goAccount/store/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time         { return c.now }
func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fixedClock) {
	t.Helper()
	hasher, err := credential.NewArgon2(credential.Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	m, err := New(hasher, DefaultConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	clock := &fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(clock.Now)
	return m, clock
}

func issue(t *testing.T, s *memory.Store, m *Manager, purpose store.Purpose) (string, error) {
	t.Helper()
	var code string
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		code, err = m.Issue(ctx, tx.OTPs(), "acc-1", purpose)
		return err
	})
	return code, err
}

func consume(t *testing.T, s *memory.Store, m *Manager, purpose store.Purpose, candidate string) (*store.OTP, error) {
	t.Helper()
	var rec *store.OTP
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		rec, err = m.Consume(ctx, tx.OTPs(), "acc-1", purpose, candidate)
		return err
	})
	return rec, err
}

func TestIssueAndConsume(t *testing.T) {
	m, _ := newTestManager(t)
	s := memory.New()

	code, err := issue(t, s, m, store.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	rec, err := consume(t, s, m, store.PurposeEmailVerify, code)
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if rec.CodeHash == code {
		t.Fatal("expected code to be stored hashed")
	}
	if rec.Purpose != store.PurposeEmailVerify {
		t.Fatalf("unexpected purpose %q", rec.Purpose)
	}

	// Consume leaves deletion to the caller.
	if _, err := consume(t, s, m, store.PurposeEmailVerify, code); err != nil {
		t.Fatalf("expected record to survive Consume, got %v", err)
	}
}

func TestConsumeWrongCode(t *testing.T) {
	m, _ := newTestManager(t)
	s := memory.New()

	code, err := issue(t, s, m, store.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := consume(t, s, m, store.PurposePasswordReset, wrong); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if _, err := consume(t, s, m, store.PurposePasswordReset, "12"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch for short code, got %v", err)
	}
}

func recordMiss(t *testing.T, s *memory.Store, m *Manager, purpose store.Purpose) error {
	t.Helper()
	return s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return m.RecordMiss(ctx, tx.OTPs(), "acc-1", purpose)
	})
}

func TestRecordMissExhaustsCode(t *testing.T) {
	m, _ := newTestManager(t)
	s := memory.New()

	code, err := issue(t, s, m, store.PurposePasswordReset)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	for i := 1; i < m.cfg.MaxAttempts; i++ {
		if err := recordMiss(t, s, m, store.PurposePasswordReset); err != nil {
			t.Fatalf("miss %d: unexpected error %v", i, err)
		}
	}
	// Below the budget the real code still works.
	if _, err := consume(t, s, m, store.PurposePasswordReset, code); err != nil {
		t.Fatalf("expected code to verify with budget left, got %v", err)
	}

	if err := recordMiss(t, s, m, store.PurposePasswordReset); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded on the last miss, got %v", err)
	}
	if _, err := consume(t, s, m, store.PurposePasswordReset, code); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected exhausted code to stay locked, got %v", err)
	}
}

func TestExhaustedCodeKeepsResendCooldown(t *testing.T) {
	m, clock := newTestManager(t)
	s := memory.New()

	if _, err := issue(t, s, m, store.PurposeEmailVerify); err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	for i := 0; i < m.cfg.MaxAttempts; i++ {
		_ = recordMiss(t, s, m, store.PurposeEmailVerify)
	}
	if _, err := issue(t, s, m, store.PurposeEmailVerify); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected cooldown to still apply, got %v", err)
	}

	clock.Advance(m.cfg.ResendCooldown)
	fresh, err := issue(t, s, m, store.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("Issue after cooldown error: %v", err)
	}
	if _, err := consume(t, s, m, store.PurposeEmailVerify, fresh); err != nil {
		t.Fatalf("expected replacement code to verify, got %v", err)
	}
}

func TestRecordMissWithoutCode(t *testing.T) {
	m, _ := newTestManager(t)
	s := memory.New()
	if err := recordMiss(t, s, m, store.PurposeDeleteAccount); err != nil {
		t.Fatalf("expected miss without a code to be ignored, got %v", err)
	}
}

func TestConsumeRejectsExhaustedCode(t *testing.T) {
	m, _ := newTestManager(t)
	s := memory.New()

	code, err := issue(t, s, m, store.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	// Push the counter to the budget without deleting, as a racing miss would.
	err = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.OTPs().GetActive(ctx, "acc-1", store.PurposeEmailVerify, m.now())
		if err != nil {
			return err
		}
		for i := 0; i < m.cfg.MaxAttempts; i++ {
			if _, err := tx.OTPs().IncrementAttempts(ctx, rec.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup error: %v", err)
	}
	if _, err := consume(t, s, m, store.PurposeEmailVerify, code); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}
}

func TestConsumeWrongPurpose(t *testing.T) {
	m, _ := newTestManager(t)
	s := memory.New()

	code, err := issue(t, s, m, store.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := consume(t, s, m, store.PurposePasswordReset, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	m, clock := newTestManager(t)
	s := memory.New()

	code, err := issue(t, s, m, store.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if _, err := consume(t, s, m, store.PurposeEmailVerify, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestResendCooldown(t *testing.T) {
	m, clock := newTestManager(t)
	s := memory.New()

	first, err := issue(t, s, m, store.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	clock.Advance(30 * time.Second)
	_, err = issue(t, s, m, store.PurposeEmailVerify)
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	var cd *CooldownError
	if !errors.As(err, &cd) || cd.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s retry hint, got %v", err)
	}

	// The throttled request must not replace the outstanding code.
	if _, err := consume(t, s, m, store.PurposeEmailVerify, first); err != nil {
		t.Fatalf("expected first code to stay valid, got %v", err)
	}

	clock.Advance(30 * time.Second)
	second, err := issue(t, s, m, store.PurposeEmailVerify)
	if err != nil {
		t.Fatalf("Issue after cooldown error: %v", err)
	}
	if _, err := consume(t, s, m, store.PurposeEmailVerify, second); err != nil {
		t.Fatalf("expected new code to verify, got %v", err)
	}
	if first != second {
		if _, err := consume(t, s, m, store.PurposeEmailVerify, first); !errors.Is(err, ErrMismatch) {
			t.Fatalf("expected replaced code to be rejected, got %v", err)
		}
	}
}

func TestIssueInvalidPurpose(t *testing.T) {
	m, _ := newTestManager(t)
	s := memory.New()
	if _, err := issue(t, s, m, store.Purpose("LOGIN")); !errors.Is(err, ErrInvalidPurpose) {
		t.Fatalf("expected ErrInvalidPurpose, got %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	hasher, err := credential.NewBcrypt(0)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	cases := []Config{
		{Digits: 4, TTL: time.Minute},
		{Digits: 6, TTL: 0},
		{Digits: 6, TTL: time.Minute, ResendCooldown: time.Minute},
		{Digits: 6, TTL: time.Minute, MaxAttempts: -1},
		{Digits: 6, TTL: time.Minute, MaxAttempts: 11},
	}
	for _, cfg := range cases {
		if _, err := New(hasher, cfg); err == nil {
			t.Fatalf("expected config %+v to be rejected", cfg)
		}
	}
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("expected nil hasher to be rejected")
	}
}
