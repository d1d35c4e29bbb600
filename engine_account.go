package goAccount

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/store"
	"github.com/google/uuid"
)

const (
	guestUsernamePrefix = "guest-"
	guestEmailPrefix    = "guest_"
	guestCreateAttempts = 3
)

// Signup creates an unverified account and emails an EMAIL_VERIFY code.
// No tokens are issued until the email is verified.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	req, err := e.validateSignup(req)
	if err != nil {
		e.metricInc(MetricSignupInvalid)
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"reason": "invalid_input",
			}
		})
		return nil, err
	}
	if e.cacheTaken(ctx, req.Username) {
		return nil, e.signupConflict(ctx, req.Username, ErrUsernameTaken)
	}

	hash, err := e.hasher.Hash(req.Password)
	req.Password = ""
	if err != nil {
		return nil, internalError(err)
	}

	now := time.Now().UTC()
	account := &store.Account{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		OptOutAI:     req.OptOutAI,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var code string
	err = e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := checkAvailable(ctx, tx.Accounts(), account.Username, account.Email, ""); err != nil {
			return err
		}
		if err := tx.Accounts().Create(ctx, account); err != nil {
			return err
		}
		c, err := e.otp.Issue(ctx, tx.OTPs(), account.ID, store.PurposeEmailVerify)
		if err != nil {
			return err
		}
		code = c
		return nil
	})
	if err != nil {
		err = e.mapError(err)
		if errors.Is(err, ErrConflict) {
			return nil, e.signupConflict(ctx, req.Username, err)
		}
		e.emitAudit(ctx, auditEventSignupFailure, false, "", "", err, nil)
		return nil, err
	}

	e.cacheAdd(ctx, account.Username)
	e.sendCode(ctx, account.ID, account.Email, store.PurposeEmailVerify, code)

	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, auditEventSignupSuccess, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{
			"username": account.Username,
		}
	})
	return &SignupResult{AccountID: account.ID, Email: account.Email}, nil
}

func (e *Engine) signupConflict(ctx context.Context, username string, err error) error {
	e.metricInc(MetricSignupDuplicate)
	e.emitAudit(ctx, auditEventSignupFailure, false, "", "", err, func() map[string]string {
		return map[string]string{
			"username": username,
			"reason":   "duplicate",
		}
	})
	return err
}

// checkAvailable reports ErrUsernameTaken or ErrEmailTaken when another
// account than selfID holds the username or the email.
func checkAvailable(ctx context.Context, repo store.AccountRepository, username, email, selfID string) error {
	if username != "" {
		other, err := repo.GetByUsername(ctx, username)
		switch {
		case err == nil && other.ID != selfID:
			return ErrUsernameTaken
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	if email != "" {
		other, err := repo.GetByEmail(ctx, email)
		switch {
		case err == nil && other.ID != selfID:
			return ErrEmailTaken
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	return nil
}

// CreateGuest creates a passwordless guest account with generated handles
// and starts a token family for it.
func (e *Engine) CreateGuest(ctx context.Context) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !e.config.Guest.Enabled {
		return nil, ErrGuestDisabled
	}

	var lastErr error
	for attempt := 0; attempt < guestCreateAttempts; attempt++ {
		account, err := e.newGuestAccount()
		if err != nil {
			return nil, internalError(err)
		}

		var sess *Session
		err = e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.Accounts().Create(ctx, account); err != nil {
				return err
			}
			var err error
			sess, err = e.issueSession(ctx, tx.RefreshTokens(), account.ID)
			return err
		})
		if errors.Is(err, store.ErrDuplicate) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, e.mapError(err)
		}

		e.cacheAdd(ctx, account.Username)
		e.metricInc(MetricGuestCreated)
		e.emitAudit(ctx, auditEventGuestCreated, true, account.ID, sess.FamilyID, nil, nil)
		return sess, nil
	}
	return nil, internalError(lastErr)
}

func (e *Engine) newGuestAccount() (*store.Account, error) {
	handle, err := internal.NewHandle(8)
	if err != nil {
		return nil, err
	}
	mailbox, err := internal.NewHandle(12)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &store.Account{
		ID:        uuid.NewString(),
		Username:  strings.ToLower(guestUsernamePrefix + handle),
		Email:     strings.ToLower(guestEmailPrefix + mailbox + "@" + strings.TrimSpace(e.config.Guest.EmailDomain)),
		IsGuest:   true,
		OptOutAI:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpgradeGuest turns a guest into a regular unverified account in place and
// emails an EMAIL_VERIFY code to the new address.
func (e *Engine) UpgradeGuest(ctx context.Context, accountID string, req SignupRequest) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	req, err := e.validateSignup(req)
	if err != nil {
		return err
	}
	hash, err := e.hasher.Hash(req.Password)
	req.Password = ""
	if err != nil {
		return internalError(err)
	}

	var (
		previous string
		code     string
	)
	err = e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.Accounts().GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if !account.IsGuest {
			return ErrNotGuest
		}
		if err := checkAvailable(ctx, tx.Accounts(), req.Username, req.Email, account.ID); err != nil {
			return err
		}

		previous = account.Username
		account.Username = req.Username
		account.Email = req.Email
		account.PasswordHash = hash
		account.OptOutAI = req.OptOutAI
		account.IsGuest = false
		account.IsVerified = false
		account.UpdatedAt = time.Now().UTC()
		if err := tx.Accounts().Update(ctx, account); err != nil {
			return err
		}

		c, err := e.otp.Issue(ctx, tx.OTPs(), account.ID, store.PurposeEmailVerify)
		if err != nil {
			return err
		}
		code = c
		return nil
	})
	if err != nil {
		return e.mapError(err)
	}

	if previous != req.Username {
		e.cacheRemove(ctx, previous)
	}
	e.cacheAdd(ctx, req.Username)
	e.sendCode(ctx, accountID, req.Email, store.PurposeEmailVerify, code)

	e.metricInc(MetricGuestUpgraded)
	e.emitAudit(ctx, auditEventGuestUpgraded, true, accountID, "", nil, func() map[string]string {
		return map[string]string{
			"username": req.Username,
		}
	})
	return nil
}

// Profile returns the public view of accountID.
func (e *Engine) Profile(ctx context.Context, accountID string) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrAccountNotFound
	}
	var account *store.Account
	err := e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		account, err = tx.Accounts().GetByID(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, e.mapError(err)
	}
	return profileOf(account), nil
}

// UpdateUsername renames accountID. Renaming to the current name is a
// validation error.
func (e *Engine) UpdateUsername(ctx context.Context, accountID, username string) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	username = normalizeUsername(username)
	fields := map[string]string{}
	checkUsername(fields, username)
	if len(fields) > 0 {
		return nil, validationError(fields)
	}

	current, err := e.Profile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.Username == username {
		return nil, validationError(map[string]string{"username": "unchanged"})
	}
	if e.cacheTaken(ctx, username) {
		return nil, ErrUsernameTaken
	}

	var (
		previous string
		updated  *store.Account
	)
	err = e.coord.Run(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.Accounts().GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := checkAvailable(ctx, tx.Accounts(), username, "", account.ID); err != nil {
			return err
		}
		previous = account.Username
		account.Username = username
		account.UpdatedAt = time.Now().UTC()
		if err := tx.Accounts().Update(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, e.mapError(err)
	}

	e.cacheRemove(ctx, previous)
	e.cacheAdd(ctx, username)

	e.metricInc(MetricUsernameUpdated)
	e.emitAudit(ctx, auditEventUsernameUpdated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{
			"previous": previous,
			"username": username,
		}
	})
	return profileOf(updated), nil
}
