package goAccount

import (
	"context"
	"time"

	"github.com/MrEthical07/goAccount/email"
	"github.com/MrEthical07/goAccount/store"
)

// Session is the token pair handed to a client after login, refresh,
// verification, guest creation or external login.
type Session struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"-"`
	AccountID        string    `json:"account_id"`
	FamilyID         string    `json:"-"`
}

// Profile is the public view of an account.
type Profile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	IsVerified bool      `json:"is_verified"`
	IsGuest    bool      `json:"is_guest"`
	OptOutAI   bool      `json:"opt_out_ai"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Providers  []string  `json:"providers,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func profileOf(a *store.Account) *Profile {
	p := &Profile{
		ID:         a.ID,
		Username:   a.Username,
		Email:      a.Email,
		IsVerified: a.IsVerified,
		IsGuest:    a.IsGuest,
		OptOutAI:   a.OptOutAI,
		AvatarURL:  a.AvatarURL,
		CreatedAt:  a.CreatedAt,
	}
	for _, id := range a.Identities {
		p.Providers = append(p.Providers, id.Provider)
	}
	return p
}

// SignupRequest carries the user-supplied fields of signup and guest upgrade.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	OptOutAI bool   `json:"opt_out_ai"`
}

// SignupResult is returned by Signup. No tokens are issued until the email
// is verified.
type SignupResult struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}

// ResendOutcome reports what ResendOTP did without revealing whether the
// address is registered.
type ResendOutcome uint8

const (
	// ResendSent means a code was issued, or silently nothing happened
	// because no account matched.
	ResendSent ResendOutcome = iota
	// ResendAlreadyVerified means an EMAIL_VERIFY code was requested for a
	// verified account.
	ResendAlreadyVerified
)

func (o ResendOutcome) String() string {
	if o == ResendAlreadyVerified {
		return "already_verified"
	}
	return "sent"
}

// Mailer delivers rendered messages. Failures after commit are logged, never
// returned to the caller.
type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

// NameCache is a best-effort username index in front of the store. The
// store's unique constraint remains authoritative.
type NameCache interface {
	IsTaken(ctx context.Context, username string) (bool, error)
	Add(ctx context.Context, username string) error
	Remove(ctx context.Context, username string) error
}
