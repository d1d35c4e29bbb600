package goAccount

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/store"
	"github.com/google/uuid"
)

const (
	maxUsernameLength     = 20
	usernameSuffixLength  = 4
	usernameDeriveRetries = 5
)

// LoginWithIdentity logs in the account linked to (Provider, Subject). When
// none is linked and no account holds the profile's email, a verified account
// is created with the identity attached. When the email is already
// registered the caller must sign in and link manually.
func (e *Engine) LoginWithIdentity(ctx context.Context, p identity.Profile) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	p.Email = normalizeEmail(p.Email)
	if err := checkIdentityProfile(p); err != nil {
		return nil, err
	}

	var (
		sess    *Session
		created *store.Account
	)
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		sess, created = nil, nil
		accounts := tx.Accounts()

		account, err := accounts.GetByIdentity(ctx, p.Provider, p.Subject)
		switch {
		case err == nil:
			sess, err = e.issueSession(ctx, tx.RefreshTokens(), account.ID)
			return err
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if _, err := accounts.GetByEmail(ctx, p.Email); err == nil {
			return ErrIdentityLinkRequired
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		username, err := deriveUsername(ctx, accounts, p)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		account = &store.Account{
			ID:       uuid.NewString(),
			Username: username,
			Email:    p.Email,
			Identities: []store.Identity{{
				Provider: p.Provider,
				Subject:  p.Subject,
				LinkedAt: now,
			}},
			IsVerified: true,
			AvatarURL:  p.AvatarURL,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := accounts.Create(ctx, account); err != nil {
			return err
		}
		created = account
		sess, err = e.issueSession(ctx, tx.RefreshTokens(), account.ID)
		return err
	})
	if err != nil {
		err = e.mapError(err)
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricIdentityLoginConflict)
		}
		e.emitAudit(ctx, auditEventIdentityLogin, false, "", "", err, func() map[string]string {
			return map[string]string{
				"provider": p.Provider,
			}
		})
		return nil, err
	}

	if created != nil {
		e.cacheAdd(ctx, created.Username)
	}
	e.metricInc(MetricIdentityLoginSuccess)
	e.emitAudit(ctx, auditEventIdentityLogin, true, sess.AccountID, sess.FamilyID, nil, func() map[string]string {
		if created != nil {
			return map[string]string{"provider": p.Provider, "created": "true"}
		}
		return map[string]string{"provider": p.Provider, "created": "false"}
	})
	return sess, nil
}

// LinkIdentity attaches an external identity to accountID. The provider's
// email must equal the account email exactly. Linking an identity the
// account already holds is a no-op.
func (e *Engine) LinkIdentity(ctx context.Context, accountID string, p identity.Profile) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	p.Email = normalizeEmail(p.Email)
	if err := checkIdentityProfile(p); err != nil {
		return err
	}

	linked := false
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		linked = false
		accounts := tx.Accounts()

		account, err := accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		owner, err := accounts.GetByIdentity(ctx, p.Provider, p.Subject)
		switch {
		case err == nil && owner.ID == account.ID:
			return nil
		case err == nil:
			return ErrIdentityTaken
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if p.Email != account.Email {
			return validationError(map[string]string{"email": "must match the account email"})
		}

		account.Identities = append(account.Identities, store.Identity{
			Provider: p.Provider,
			Subject:  p.Subject,
			LinkedAt: time.Now().UTC(),
		})
		account.UpdatedAt = time.Now().UTC()
		if err := accounts.Update(ctx, account); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return withCause(ErrIdentityTaken, err)
			}
			return err
		}
		linked = true
		return nil
	})
	if err != nil {
		err = e.mapError(err)
		e.emitAudit(ctx, auditEventIdentityLinked, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"provider": p.Provider,
			}
		})
		return err
	}
	if linked {
		e.metricInc(MetricIdentityLinked)
		e.emitAudit(ctx, auditEventIdentityLinked, true, accountID, "", nil, func() map[string]string {
			return map[string]string{
				"provider": p.Provider,
			}
		})
	}
	return nil
}

func checkIdentityProfile(p identity.Profile) error {
	fields := map[string]string{}
	if strings.TrimSpace(p.Provider) == "" {
		fields["provider"] = "required"
	}
	if strings.TrimSpace(p.Subject) == "" {
		fields["subject"] = "required"
	}
	checkEmail(fields, p.Email)
	if len(fields) > 0 {
		return validationError(fields)
	}
	return nil
}

// deriveUsername builds a free username from the display name or the email
// local part, appending a random suffix when the plain form is taken.
func deriveUsername(ctx context.Context, repo store.AccountRepository, p identity.Profile) (string, error) {
	base := sanitizeUsername(p.Name)
	if len(base) < 3 {
		base = sanitizeUsername(p.Email[:strings.IndexByte(p.Email, '@')])
	}
	if len(base) < 3 {
		base = "user"
	}

	candidate := base
	for attempt := 0; attempt < usernameDeriveRetries; attempt++ {
		_, err := repo.GetByUsername(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		suffix, err := internal.NewHandle(usernameSuffixLength)
		if err != nil {
			return "", err
		}
		stem := base
		if limit := maxUsernameLength - usernameSuffixLength - 1; len(stem) > limit {
			stem = stem[:limit]
		}
		candidate = stem + "-" + strings.ToLower(suffix)
	}
	return "", withCause(ErrUsernameTaken, errors.New("no free username derived"))
}

// sanitizeUsername lowercases s, maps spaces to '.', drops characters
// outside the username alphabet and truncates to the maximum length.
func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('.')
		}
		if b.Len() == maxUsernameLength {
			break
		}
	}
	return b.String()
}
