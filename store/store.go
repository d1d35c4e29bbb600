package store

import (
	"context"
	"time"
)

// Purpose identifies what a one-time code authorizes.
type Purpose string

const (
	PurposeEmailVerify   Purpose = "EMAIL_VERIFY"
	PurposePasswordReset Purpose = "PASSWORD_RESET"
	PurposeDeleteAccount Purpose = "DELETE_ACCOUNT"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailVerify, PurposePasswordReset, PurposeDeleteAccount:
		return true
	}
	return false
}

// Identity links an account to a subject at an external identity provider.
type Identity struct {
	Provider string    `bson:"provider" json:"provider"`
	Subject  string    `bson:"subject" json:"subject"`
	LinkedAt time.Time `bson:"linked_at" json:"linked_at"`
}

// Account is the persisted identity record. Username and Email are stored
// lowercase. PasswordHash is empty for guest and external-only accounts.
type Account struct {
	ID           string     `bson:"_id"`
	Username     string     `bson:"username"`
	Email        string     `bson:"email,omitempty"`
	PasswordHash string     `bson:"password_hash,omitempty"`
	Identities   []Identity `bson:"identities"`
	IsVerified   bool       `bson:"is_verified"`
	IsGuest      bool       `bson:"is_guest"`
	OptOutAI     bool       `bson:"opt_out_ai"`
	AvatarURL    string     `bson:"avatar_url,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

// HasIdentity reports whether the account is linked to (provider, subject).
func (a *Account) HasIdentity(provider, subject string) bool {
	for _, id := range a.Identities {
		if id.Provider == provider && id.Subject == subject {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate independently.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Identities != nil {
		out.Identities = make([]Identity, len(a.Identities))
		copy(out.Identities, a.Identities)
	}
	return &out
}

// RefreshToken is one issued refresh token. FamilyID is shared by every
// token of a rotation chain; TokenHash is the keyed digest of the token.
type RefreshToken struct {
	ID        string    `bson:"_id"`
	AccountID string    `bson:"account_id"`
	FamilyID  string    `bson:"family_id"`
	TokenHash string    `bson:"token_hash"`
	IssuedAt  time.Time `bson:"issued_at"`
	ExpiresAt time.Time `bson:"expires_at"`
	IsUsed    bool      `bson:"is_used"`
	IsRevoked bool      `bson:"is_revoked"`
}

// Expired reports whether the token is past its expiry at now.
func (r *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// OTP is one issued one-time code. Only the hash is ever persisted.
type OTP struct {
	ID        string    `bson:"_id"`
	AccountID string    `bson:"account_id"`
	Purpose   Purpose   `bson:"purpose"`
	CodeHash  string    `bson:"code_hash"`
	Attempts  int       `bson:"attempts"`
	SentAt    time.Time `bson:"sent_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Expired reports whether the code is past its expiry at now.
func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// AccountRepository persists accounts. Lookups return ErrNotFound when no
// row matches; Create and Update return ErrDuplicate on a uniqueness clash.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByIdentity(ctx context.Context, provider, subject string) (*Account, error)
	Update(ctx context.Context, account *Account) error
	Delete(ctx context.Context, id string) error
}

// RefreshTokenRepository persists refresh tokens.
//
// MarkUsed is a compare-and-set: it flips IsUsed only when the record is
// still unused and unrevoked, and reports whether it did.
type RefreshTokenRepository interface {
	Insert(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
	RevokeByHash(ctx context.Context, tokenHash string) (int64, error)
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	RevokeAllForAccount(ctx context.Context, accountID string) (int64, error)
	DeleteAllForAccount(ctx context.Context, accountID string) (int64, error)
}

// OTPRepository persists one-time codes, at most one per (account, purpose).
type OTPRepository interface {
	Insert(ctx context.Context, otp *OTP) error
	// GetActive returns the unexpired code for (accountID, purpose) at now.
	GetActive(ctx context.Context, accountID string, purpose Purpose, now time.Time) (*OTP, error)
	// IncrementAttempts adds one failed guess to the code and returns the new
	// count. ErrNotFound when the code is gone.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteForPurpose(ctx context.Context, accountID string, purpose Purpose) (int64, error)
	DeleteAllForAccount(ctx context.Context, accountID string) (int64, error)
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Accounts() AccountRepository
	RefreshTokens() RefreshTokenRepository
	OTPs() OTPRepository
}

// Transactor runs fn inside a single transaction. A nil return commits; any
// error rolls back every mutation made through tx and is returned unchanged.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
