package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goAccount/credential"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/store"
	"github.com/MrEthical07/goAccount/txn"
	"github.com/google/uuid"
)

var (
	// ErrInvalid is returned for a refresh token that is unknown, revoked,
	// expired or issued to a different account.
	ErrInvalid = errors.New("ledger: invalid refresh token")
	// ErrReuseDetected is returned when an already rotated token is presented
	// again. The whole family has been revoked by the time it is returned.
	ErrReuseDetected = errors.New("ledger: refresh token reuse detected")
)

// Locker serializes rotations of one token hash across processes. Lock
// blocks until the lock is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// Config tunes the ledger.
type Config struct {
	// LockTTL bounds how long a crashed holder can block a hash.
	LockTTL time.Duration
}

// Ledger records every issued refresh token and enforces single use.
type Ledger struct {
	digest *credential.Digest
	coord  *txn.Coordinator
	locker Locker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Rotation is the outcome of a successful Rotate.
type Rotation struct {
	AccountID string
	FamilyID  string
	Token     *store.RefreshToken
}

// New returns a Ledger. locker may be nil; the repositories' compare-and-set
// is authoritative either way.
func New(digest *credential.Digest, coord *txn.Coordinator, locker Locker, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if digest == nil || coord == nil {
		return nil, errors.New("ledger: digest and coordinator required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		digest: digest,
		coord:  coord,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Issue records issued as the first token of a new family.
func (l *Ledger) Issue(ctx context.Context, repo store.RefreshTokenRepository, issued *jwt.Issued) (*store.RefreshToken, error) {
	return l.insert(ctx, repo, issued, uuid.NewString())
}

func (l *Ledger) insert(ctx context.Context, repo store.RefreshTokenRepository, issued *jwt.Issued, familyID string) (*store.RefreshToken, error) {
	if issued == nil || issued.Token == "" || issued.Subject == "" {
		return nil, errors.New("ledger: issued token required")
	}
	rec := &store.RefreshToken{
		ID:        uuid.NewString(),
		AccountID: issued.Subject,
		FamilyID:  familyID,
		TokenHash: l.digest.Sum(issued.Token),
		IssuedAt:  issued.IssuedAt,
		ExpiresAt: issued.ExpiresAt,
	}
	if err := repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Rotate consumes presented and records next in the same family, in one
// transaction. A token that was already rotated revokes its family; the
// revocation is committed before ErrReuseDetected is returned.
func (l *Ledger) Rotate(ctx context.Context, presented string, next *jwt.Issued) (*Rotation, error) {
	if presented == "" || next == nil {
		return nil, ErrInvalid
	}
	hash := l.digest.Sum(presented)

	if l.locker != nil {
		unlock, err := l.locker.Lock(ctx, "goaccount:refresh:"+hash, l.cfg.LockTTL)
		switch {
		case err == nil:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					l.logger.WarnContext(ctx, "goAccount: refresh lock release failed", "error", err)
				}
			}()
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			// The store's compare-and-set still decides the winner.
			l.logger.WarnContext(ctx, "goAccount: refresh lock unavailable, continuing without it", "error", err)
		}
	}

	var (
		out     *Rotation
		reused  bool
		revoked int64
	)
	err := l.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		out, reused, revoked = nil, false, 0
		repo := tx.RefreshTokens()

		rec, err := repo.GetByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalid
			}
			return err
		}
		if rec.IsRevoked || rec.Expired(l.now()) || rec.AccountID != next.Subject {
			return ErrInvalid
		}

		won := false
		if !rec.IsUsed {
			won, err = repo.MarkUsed(ctx, rec.ID)
			if err != nil {
				return err
			}
		}
		if !won {
			reused = true
			revoked, err = repo.RevokeFamily(ctx, rec.FamilyID)
			return err
		}

		token, err := l.insert(ctx, repo, next, rec.FamilyID)
		if err != nil {
			return err
		}
		out = &Rotation{AccountID: rec.AccountID, FamilyID: rec.FamilyID, Token: token}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reused {
		l.logger.WarnContext(ctx, "goAccount: refresh token reuse, family revoked",
			"account_id", next.Subject, "revoked", revoked)
		return nil, ErrReuseDetected
	}
	return out, nil
}

// Revoke marks the record matching presented as revoked. It reports whether
// a live record was found.
func (l *Ledger) Revoke(ctx context.Context, repo store.RefreshTokenRepository, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}
	n, err := repo.RevokeByHash(ctx, l.digest.Sum(presented))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeAll revokes every refresh token of accountID.
func (l *Ledger) RevokeAll(ctx context.Context, repo store.RefreshTokenRepository, accountID string) (int64, error) {
	n, err := repo.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return n, nil
}

// Purge deletes every refresh token of accountID.
func (l *Ledger) Purge(ctx context.Context, repo store.RefreshTokenRepository, accountID string) (int64, error) {
	n, err := repo.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return n, nil
}
