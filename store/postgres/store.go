package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goAccount/store"
)

// Store runs units of work on a pool owned by the caller.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool. Apply Migrate before serving traffic.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx commits when fn returns nil and rolls back otherwise. The error
// from fn is returned unchanged.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = pgTx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// PurgeExpired deletes refresh tokens and codes that expired before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	var purged int64
	err := s.WithinTx(ctx, func(ctx context.Context, t store.Tx) error {
		q := t.(*tx).q
		for _, stmt := range []string{
			`DELETE FROM refresh_tokens WHERE expires_at <= $1`,
			`DELETE FROM otp_codes WHERE expires_at <= $1`,
		} {
			tag, err := q.Exec(ctx, stmt, now)
			if err != nil {
				return classify(err)
			}
			purged += tag.RowsAffected()
		}
		return nil
	})
	return int(purged), err
}

// Usernames lists every account's username for warming the name cache.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM accounts`)
	if err != nil {
		return nil, classify(err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(err)
	}
	return names, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tx struct {
	q querier
}

func (t *tx) Accounts() store.AccountRepository           { return accounts{t.q} }
func (t *tx) RefreshTokens() store.RefreshTokenRepository { return refreshTokens{t.q} }
func (t *tx) OTPs() store.OTPRepository                   { return otps{t.q} }

func exec(ctx context.Context, q querier, sql string, args ...any) (int64, error) {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

/* ---------------- accounts ---------------- */

const accountColumns = `id, username, COALESCE(email, ''), password_hash, is_verified, is_guest, opt_out_ai, avatar_url, created_at, updated_at`

type accounts struct{ q querier }

func (r accounts) Create(ctx context.Context, a *store.Account) error {
	_, err := exec(ctx, r.q, `
		INSERT INTO accounts (id, username, email, password_hash, is_verified, is_guest, opt_out_ai, avatar_url, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.IsVerified, a.IsGuest, a.OptOutAI, a.AvatarURL, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertIdentities(ctx, a)
}

func (r accounts) GetByID(ctx context.Context, id string) (*store.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r accounts) GetByUsername(ctx context.Context, username string) (*store.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = lower($1)`, username)
}

func (r accounts) GetByEmail(ctx context.Context, email string) (*store.Account, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = lower($1)`, email)
}

func (r accounts) GetByIdentity(ctx context.Context, provider, subject string) (*store.Account, error) {
	return r.getOne(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE id = (SELECT account_id FROM account_identities WHERE provider = $1 AND subject = $2)`,
		provider, subject)
}

func (r accounts) Update(ctx context.Context, a *store.Account) error {
	n, err := exec(ctx, r.q, `
		UPDATE accounts SET
			username = $2, email = NULLIF($3, ''), password_hash = $4, is_verified = $5,
			is_guest = $6, opt_out_ai = $7, avatar_url = $8, updated_at = $9
		WHERE id = $1`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.IsVerified, a.IsGuest, a.OptOutAI, a.AvatarURL, a.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	if _, err := exec(ctx, r.q, `DELETE FROM account_identities WHERE account_id = $1`, a.ID); err != nil {
		return err
	}
	return r.insertIdentities(ctx, a)
}

func (r accounts) Delete(ctx context.Context, id string) error {
	n, err := exec(ctx, r.q, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r accounts) insertIdentities(ctx context.Context, a *store.Account) error {
	for _, ident := range a.Identities {
		if _, err := exec(ctx, r.q, `
			INSERT INTO account_identities (provider, subject, account_id, linked_at)
			VALUES ($1, $2, $3, $4)`,
			ident.Provider, ident.Subject, a.ID, ident.LinkedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r accounts) getOne(ctx context.Context, sql string, args ...any) (*store.Account, error) {
	var a store.Account
	err := r.q.QueryRow(ctx, sql, args...).Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.IsVerified,
		&a.IsGuest, &a.OptOutAI, &a.AvatarURL, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}

	rows, err := r.q.Query(ctx, `
		SELECT provider, subject, linked_at FROM account_identities
		WHERE account_id = $1 ORDER BY linked_at, provider`, a.ID)
	if err != nil {
		return nil, classify(err)
	}
	idents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Identity, error) {
		var ident store.Identity
		err := row.Scan(&ident.Provider, &ident.Subject, &ident.LinkedAt)
		return ident, err
	})
	if err != nil {
		return nil, classify(err)
	}
	a.Identities = idents
	return &a, nil
}

/* ---------------- refresh tokens ---------------- */

type refreshTokens struct{ q querier }

func (r refreshTokens) Insert(ctx context.Context, rt *store.RefreshToken) error {
	_, err := exec(ctx, r.q, `
		INSERT INTO refresh_tokens (id, account_id, family_id, token_hash, issued_at, expires_at, is_used, is_revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rt.ID, rt.AccountID, rt.FamilyID, rt.TokenHash, rt.IssuedAt, rt.ExpiresAt, rt.IsUsed, rt.IsRevoked)
	return err
}

func (r refreshTokens) GetByHash(ctx context.Context, tokenHash string) (*store.RefreshToken, error) {
	var rt store.RefreshToken
	err := r.q.QueryRow(ctx, `
		SELECT id, account_id, family_id, token_hash, issued_at, expires_at, is_used, is_revoked
		FROM refresh_tokens WHERE token_hash = $1`, tokenHash).Scan(
		&rt.ID, &rt.AccountID, &rt.FamilyID, &rt.TokenHash, &rt.IssuedAt, &rt.ExpiresAt, &rt.IsUsed, &rt.IsRevoked,
	)
	if err != nil {
		return nil, classify(err)
	}
	return &rt, nil
}

func (r refreshTokens) MarkUsed(ctx context.Context, id string) (bool, error) {
	n, err := exec(ctx, r.q, `
		UPDATE refresh_tokens SET is_used = TRUE
		WHERE id = $1 AND NOT is_used AND NOT is_revoked`, id)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r refreshTokens) RevokeByHash(ctx context.Context, tokenHash string) (int64, error) {
	return exec(ctx, r.q, `UPDATE refresh_tokens SET is_revoked = TRUE WHERE token_hash = $1 AND NOT is_revoked`, tokenHash)
}

func (r refreshTokens) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return exec(ctx, r.q, `UPDATE refresh_tokens SET is_revoked = TRUE WHERE family_id = $1 AND NOT is_revoked`, familyID)
}

func (r refreshTokens) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	return exec(ctx, r.q, `UPDATE refresh_tokens SET is_revoked = TRUE WHERE account_id = $1 AND NOT is_revoked`, accountID)
}

func (r refreshTokens) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	return exec(ctx, r.q, `DELETE FROM refresh_tokens WHERE account_id = $1`, accountID)
}

/* ---------------- one-time codes ---------------- */

type otps struct{ q querier }

func (r otps) Insert(ctx context.Context, o *store.OTP) error {
	_, err := exec(ctx, r.q, `
		INSERT INTO otp_codes (id, account_id, purpose, code_hash, sent_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.AccountID, string(o.Purpose), o.CodeHash, o.SentAt, o.ExpiresAt)
	return err
}

func (r otps) GetActive(ctx context.Context, accountID string, purpose store.Purpose, now time.Time) (*store.OTP, error) {
	var (
		o       store.OTP
		purpStr string
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, account_id, purpose, code_hash, attempts, sent_at, expires_at
		FROM otp_codes WHERE account_id = $1 AND purpose = $2 AND expires_at > $3`,
		accountID, string(purpose), now).Scan(
		&o.ID, &o.AccountID, &purpStr, &o.CodeHash, &o.Attempts, &o.SentAt, &o.ExpiresAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	o.Purpose = store.Purpose(purpStr)
	return &o, nil
}

func (r otps) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`UPDATE otp_codes SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r otps) Delete(ctx context.Context, id string) error {
	n, err := exec(ctx, r.q, `DELETE FROM otp_codes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r otps) DeleteForPurpose(ctx context.Context, accountID string, purpose store.Purpose) (int64, error) {
	return exec(ctx, r.q, `DELETE FROM otp_codes WHERE account_id = $1 AND purpose = $2`, accountID, string(purpose))
}

func (r otps) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	return exec(ctx, r.q, `DELETE FROM otp_codes WHERE account_id = $1`, accountID)
}

var _ store.Transactor = (*Store)(nil)
