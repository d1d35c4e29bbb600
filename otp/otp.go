package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccount/credential"
	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/store"
	"github.com/google/uuid"
)

var (
	// ErrThrottled is returned when a code is requested inside the resend cooldown.
	ErrThrottled = errors.New("otp: resend cooldown active")
	// ErrNotFound is returned when no unexpired code exists for (account, purpose).
	ErrNotFound = errors.New("otp: no active code")
	// ErrMismatch is returned when the candidate does not match the active code.
	ErrMismatch = errors.New("otp: code mismatch")
	// ErrAttemptsExceeded is returned once a code has taken MaxAttempts wrong
	// guesses. The code stays locked until a new one replaces it, which the
	// resend cooldown still governs.
	ErrAttemptsExceeded = errors.New("otp: attempts exceeded")
	// ErrInvalidPurpose is returned for an unknown purpose.
	ErrInvalidPurpose = errors.New("otp: invalid purpose")
)

// CooldownError carries the remaining cooldown. It matches ErrThrottled.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s (retry after %s)", ErrThrottled, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrThrottled
}

// Config tunes code issuance.
type Config struct {
	Digits         int
	TTL            time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
}

// DefaultConfig returns 6 digit codes valid for 10 minutes with a 60 second
// resend cooldown and five guesses per code.
func DefaultConfig() Config {
	return Config{
		Digits:         6,
		TTL:            10 * time.Minute,
		ResendCooldown: 60 * time.Second,
		MaxAttempts:    5,
	}
}

// Manager issues and checks one-time codes. It holds no state of its own;
// every call works on the repository bound to the caller's transaction.
type Manager struct {
	hasher credential.Hasher
	cfg    Config
	now    func() time.Time
}

// New validates cfg and returns a Manager hashing codes with hasher.
func New(hasher credential.Hasher, cfg Config) (*Manager, error) {
	if hasher == nil {
		return nil, errors.New("otp: hasher required")
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Digits < 6 || cfg.Digits > 10 {
		return nil, errors.New("otp: digits must be within [6, 10]")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("otp: ttl must be > 0")
	}
	if cfg.ResendCooldown < 0 || cfg.ResendCooldown >= cfg.TTL {
		return nil, errors.New("otp: resend cooldown must be >= 0 and shorter than ttl")
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > 10 {
		return nil, errors.New("otp: max attempts must be within [1, 10]")
	}
	return &Manager{hasher: hasher, cfg: cfg, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// TTL returns the configured code lifetime.
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

// Issue generates a code for (accountID, purpose), replaces any previous code
// and returns the plaintext. Inside the cooldown it returns a *CooldownError
// and leaves the existing code untouched.
func (m *Manager) Issue(ctx context.Context, repo store.OTPRepository, accountID string, purpose store.Purpose) (string, error) {
	if !purpose.Valid() {
		return "", ErrInvalidPurpose
	}
	now := m.now()

	active, err := repo.GetActive(ctx, accountID, purpose, now)
	switch {
	case err == nil:
		if elapsed := now.Sub(active.SentAt); elapsed < m.cfg.ResendCooldown {
			return "", &CooldownError{RetryAfter: m.cfg.ResendCooldown - elapsed}
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return "", err
	}

	code, err := internal.NewOTP(m.cfg.Digits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", credential.ErrHashing, err)
	}
	hash, err := m.hasher.Hash(code)
	if err != nil {
		return "", err
	}

	if _, err := repo.DeleteForPurpose(ctx, accountID, purpose); err != nil {
		return "", err
	}
	err = repo.Insert(ctx, &store.OTP{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Purpose:   purpose,
		CodeHash:  hash,
		SentAt:    now,
		ExpiresAt: now.Add(m.cfg.TTL),
	})
	if err != nil {
		// A concurrent issuer for the same pair committed first.
		if errors.Is(err, store.ErrDuplicate) {
			return "", &CooldownError{RetryAfter: m.cfg.ResendCooldown}
		}
		return "", err
	}

	return code, nil
}

// Consume checks candidate against the active code for (accountID, purpose)
// and returns the matching record. It does not delete it: the caller deletes
// the record through the same transaction that applies the state change the
// code authorizes.
//
// A mismatch mutates nothing. Callers roll the transaction back and then
// charge the guess with RecordMiss in a transaction of its own.
func (m *Manager) Consume(ctx context.Context, repo store.OTPRepository, accountID string, purpose store.Purpose, candidate string) (*store.OTP, error) {
	if !purpose.Valid() {
		return nil, ErrInvalidPurpose
	}

	active, err := repo.GetActive(ctx, accountID, purpose, m.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if active.Attempts >= m.cfg.MaxAttempts {
		return nil, ErrAttemptsExceeded
	}

	if candidate == "" || len(candidate) != m.cfg.Digits {
		return nil, ErrMismatch
	}
	ok, err := m.hasher.Verify(candidate, active.CodeHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMismatch
	}

	return active, nil
}

// RecordMiss charges one wrong guess to the active code for
// (accountID, purpose) and returns ErrAttemptsExceeded once the budget is
// spent. A code that is already gone is not an error.
func (m *Manager) RecordMiss(ctx context.Context, repo store.OTPRepository, accountID string, purpose store.Purpose) error {
	if !purpose.Valid() {
		return ErrInvalidPurpose
	}

	active, err := repo.GetActive(ctx, accountID, purpose, m.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	n, err := repo.IncrementAttempts(ctx, active.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if n < m.cfg.MaxAttempts {
		return nil
	}
	return ErrAttemptsExceeded
}
