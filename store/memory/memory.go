// Package memory is an in-process store.Transactor. Transactions are fully
// serialized and apply to a private copy of the state that replaces the
// shared state only on commit, which makes compare-and-set trivially atomic.
//
// Intended for tests and single-process development servers.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/store"
)

// Store holds all records in maps guarded by a one-slot semaphore.
type Store struct {
	sem   chan struct{}
	state *state
}

type state struct {
	accounts map[string]*store.Account
	tokens   map[string]*store.RefreshToken
	otps     map[string]*store.OTP
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sem: make(chan struct{}, 1),
		state: &state{
			accounts: map[string]*store.Account{},
			tokens:   map[string]*store.RefreshToken{},
			otps:     map[string]*store.OTP{},
		},
	}
}

// WithinTx runs fn against a copy of the current state. The copy replaces the
// shared state only when fn returns nil and ctx is still live. Calling
// WithinTx from inside fn deadlocks.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
	}
	defer func() { <-s.sem }()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.state = work
	return nil
}

// PurgeExpired drops refresh tokens and codes whose expiry is before now,
// standing in for the TTL indexes of the database backends.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	err := s.WithinTx(ctx, func(_ context.Context, t store.Tx) error {
		st := t.(*tx).st
		for id, rt := range st.tokens {
			if rt.Expired(now) {
				delete(st.tokens, id)
				purged++
			}
		}
		for id, o := range st.otps {
			if o.Expired(now) {
				delete(st.otps, id)
				purged++
			}
		}
		return nil
	})
	return purged, err
}

// Usernames lists every account's username.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.WithinTx(ctx, func(_ context.Context, t store.Tx) error {
		for _, a := range t.(*tx).st.accounts {
			names = append(names, a.Username)
		}
		return nil
	})
	return names, err
}

func (st *state) clone() *state {
	out := &state{
		accounts: make(map[string]*store.Account, len(st.accounts)),
		tokens:   make(map[string]*store.RefreshToken, len(st.tokens)),
		otps:     make(map[string]*store.OTP, len(st.otps)),
	}
	for k, v := range st.accounts {
		out.accounts[k] = v.Clone()
	}
	for k, v := range st.tokens {
		rt := *v
		out.tokens[k] = &rt
	}
	for k, v := range st.otps {
		o := *v
		out.otps[k] = &o
	}
	return out
}

type tx struct {
	st *state
}

func (t *tx) Accounts() store.AccountRepository           { return accounts{t.st} }
func (t *tx) RefreshTokens() store.RefreshTokenRepository { return refreshTokens{t.st} }
func (t *tx) OTPs() store.OTPRepository                   { return otps{t.st} }

/* ---------------- accounts ---------------- */

type accounts struct{ st *state }

func (r accounts) Create(_ context.Context, a *store.Account) error {
	if _, ok := r.st.accounts[a.ID]; ok {
		return store.ErrDuplicate
	}
	if err := r.checkUnique(a); err != nil {
		return err
	}
	r.st.accounts[a.ID] = a.Clone()
	return nil
}

func (r accounts) GetByID(_ context.Context, id string) (*store.Account, error) {
	a, ok := r.st.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a.Clone(), nil
}

func (r accounts) GetByUsername(_ context.Context, username string) (*store.Account, error) {
	username = strings.ToLower(username)
	for _, a := range r.st.accounts {
		if a.Username == username {
			return a.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r accounts) GetByEmail(_ context.Context, email string) (*store.Account, error) {
	email = strings.ToLower(email)
	if email == "" {
		return nil, store.ErrNotFound
	}
	for _, a := range r.st.accounts {
		if a.Email == email {
			return a.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r accounts) GetByIdentity(_ context.Context, provider, subject string) (*store.Account, error) {
	for _, a := range r.st.accounts {
		if a.HasIdentity(provider, subject) {
			return a.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r accounts) Update(_ context.Context, a *store.Account) error {
	if _, ok := r.st.accounts[a.ID]; !ok {
		return store.ErrNotFound
	}
	if err := r.checkUnique(a); err != nil {
		return err
	}
	r.st.accounts[a.ID] = a.Clone()
	return nil
}

func (r accounts) Delete(_ context.Context, id string) error {
	if _, ok := r.st.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.st.accounts, id)
	return nil
}

func (r accounts) checkUnique(a *store.Account) error {
	for id, other := range r.st.accounts {
		if id == a.ID {
			continue
		}
		if other.Username == a.Username {
			return fmt.Errorf("%w: username", store.ErrDuplicate)
		}
		if a.Email != "" && other.Email == a.Email {
			return fmt.Errorf("%w: email", store.ErrDuplicate)
		}
		for _, ident := range a.Identities {
			if other.HasIdentity(ident.Provider, ident.Subject) {
				return fmt.Errorf("%w: identity", store.ErrDuplicate)
			}
		}
	}
	return nil
}

/* ---------------- refresh tokens ---------------- */

type refreshTokens struct{ st *state }

func (r refreshTokens) Insert(_ context.Context, rt *store.RefreshToken) error {
	if _, ok := r.st.tokens[rt.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range r.st.tokens {
		if other.TokenHash == rt.TokenHash {
			return store.ErrDuplicate
		}
	}
	cp := *rt
	r.st.tokens[rt.ID] = &cp
	return nil
}

func (r refreshTokens) GetByHash(_ context.Context, tokenHash string) (*store.RefreshToken, error) {
	for _, rt := range r.st.tokens {
		if rt.TokenHash == tokenHash {
			cp := *rt
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r refreshTokens) MarkUsed(_ context.Context, id string) (bool, error) {
	rt, ok := r.st.tokens[id]
	if !ok || rt.IsUsed || rt.IsRevoked {
		return false, nil
	}
	rt.IsUsed = true
	return true, nil
}

func (r refreshTokens) RevokeByHash(_ context.Context, tokenHash string) (int64, error) {
	return r.revokeWhere(func(rt *store.RefreshToken) bool { return rt.TokenHash == tokenHash }), nil
}

func (r refreshTokens) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	return r.revokeWhere(func(rt *store.RefreshToken) bool { return rt.FamilyID == familyID }), nil
}

func (r refreshTokens) RevokeAllForAccount(_ context.Context, accountID string) (int64, error) {
	return r.revokeWhere(func(rt *store.RefreshToken) bool { return rt.AccountID == accountID }), nil
}

func (r refreshTokens) DeleteAllForAccount(_ context.Context, accountID string) (int64, error) {
	var n int64
	for id, rt := range r.st.tokens {
		if rt.AccountID == accountID {
			delete(r.st.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r refreshTokens) revokeWhere(match func(*store.RefreshToken) bool) int64 {
	var n int64
	for _, rt := range r.st.tokens {
		if match(rt) && !rt.IsRevoked {
			rt.IsRevoked = true
			n++
		}
	}
	return n
}

/* ---------------- one-time codes ---------------- */

type otps struct{ st *state }

func (r otps) Insert(_ context.Context, o *store.OTP) error {
	for _, other := range r.st.otps {
		if other.ID == o.ID || (other.AccountID == o.AccountID && other.Purpose == o.Purpose) {
			return store.ErrDuplicate
		}
	}
	cp := *o
	r.st.otps[o.ID] = &cp
	return nil
}

func (r otps) GetActive(_ context.Context, accountID string, purpose store.Purpose, now time.Time) (*store.OTP, error) {
	for _, o := range r.st.otps {
		if o.AccountID == accountID && o.Purpose == purpose && !o.Expired(now) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r otps) IncrementAttempts(_ context.Context, id string) (int, error) {
	o, ok := r.st.otps[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	o.Attempts++
	return o.Attempts, nil
}

func (r otps) Delete(_ context.Context, id string) error {
	if _, ok := r.st.otps[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.st.otps, id)
	return nil
}

func (r otps) DeleteForPurpose(_ context.Context, accountID string, purpose store.Purpose) (int64, error) {
	var n int64
	for id, o := range r.st.otps {
		if o.AccountID == accountID && o.Purpose == purpose {
			delete(r.st.otps, id)
			n++
		}
	}
	return n, nil
}

func (r otps) DeleteAllForAccount(_ context.Context, accountID string) (int64, error) {
	var n int64
	for id, o := range r.st.otps {
		if o.AccountID == accountID {
			delete(r.st.otps, id)
			n++
		}
	}
	return n, nil
}
