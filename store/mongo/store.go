package mongo

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/MrEthical07/goAccount/store"
)

// Store runs units of work against one database. The client is owned by
// the caller.
type Store struct {
	db *mongo.Database
}

// New wraps db. Call EnsureIndexes once before serving traffic.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// WithinTx runs fn in a majority read/write session transaction. The error
// from fn is returned unchanged.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return classify(err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	var fnErr error
	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		fnErr = fn(sc, &tx{db: s.db})
		return nil, fnErr
	}, txOpts)
	if err != nil {
		if fnErr != nil {
			return fnErr
		}
		return classify(err)
	}
	return nil
}

// PurgeExpired deletes expired refresh tokens and codes ahead of the TTL
// monitor, which only runs once a minute.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	filter := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}}}
	var purged int64
	for _, coll := range []string{collTokens, collOTPs} {
		res, err := s.db.Collection(coll).DeleteMany(ctx, filter)
		if err != nil {
			return int(purged), classify(err)
		}
		purged += res.DeletedCount
	}
	return int(purged), nil
}

// Usernames lists every account's username for warming the name cache.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.D{{Key: "username", Value: 1}})
	cur, err := s.db.Collection(collAccounts).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, classify(err)
	}
	var docs []struct {
		Username string `bson:"username"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Username)
	}
	return names, nil
}

type tx struct {
	db *mongo.Database
}

func (t *tx) Accounts() store.AccountRepository {
	return accounts{coll: t.db.Collection(collAccounts), idents: t.db.Collection(collIdentities)}
}

func (t *tx) RefreshTokens() store.RefreshTokenRepository {
	return refreshTokens{coll: t.db.Collection(collTokens)}
}

func (t *tx) OTPs() store.OTPRepository {
	return otps{coll: t.db.Collection(collOTPs)}
}

/* ---------------- accounts ---------------- */

type identityKey struct {
	Provider string `bson:"provider"`
	Subject  string `bson:"subject"`
}

// identityClaim makes (provider, subject) unique across accounts through _id.
type identityClaim struct {
	ID        identityKey `bson:"_id"`
	AccountID string      `bson:"account_id"`
}

type accounts struct {
	coll   *mongo.Collection
	idents *mongo.Collection
}

func (r accounts) Create(ctx context.Context, a *store.Account) error {
	if _, err := r.coll.InsertOne(ctx, a); err != nil {
		return classify(err)
	}
	return r.claimIdentities(ctx, a)
}

func (r accounts) GetByID(ctx context.Context, id string) (*store.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r accounts) GetByUsername(ctx context.Context, username string) (*store.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "username", Value: strings.ToLower(username)}})
}

func (r accounts) GetByEmail(ctx context.Context, email string) (*store.Account, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	return r.findOne(ctx, bson.D{{Key: "email", Value: strings.ToLower(email)}})
}

func (r accounts) GetByIdentity(ctx context.Context, provider, subject string) (*store.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "identities", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
		{Key: "provider", Value: provider},
		{Key: "subject", Value: subject},
	}}}}})
}

func (r accounts) Update(ctx context.Context, a *store.Account) error {
	res, err := r.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: a.ID}}, a)
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	if _, err := r.idents.DeleteMany(ctx, bson.D{{Key: "account_id", Value: a.ID}}); err != nil {
		return classify(err)
	}
	return r.claimIdentities(ctx, a)
}

func (r accounts) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	if _, err := r.idents.DeleteMany(ctx, bson.D{{Key: "account_id", Value: id}}); err != nil {
		return classify(err)
	}
	return nil
}

func (r accounts) claimIdentities(ctx context.Context, a *store.Account) error {
	if len(a.Identities) == 0 {
		return nil
	}
	claims := make([]any, 0, len(a.Identities))
	for _, ident := range a.Identities {
		claims = append(claims, identityClaim{
			ID:        identityKey{Provider: ident.Provider, Subject: ident.Subject},
			AccountID: a.ID,
		})
	}
	if _, err := r.idents.InsertMany(ctx, claims); err != nil {
		return classify(err)
	}
	return nil
}

func (r accounts) findOne(ctx context.Context, filter bson.D) (*store.Account, error) {
	var a store.Account
	if err := r.coll.FindOne(ctx, filter).Decode(&a); err != nil {
		return nil, classify(err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

/* ---------------- refresh tokens ---------------- */

type refreshTokens struct {
	coll *mongo.Collection
}

func (r refreshTokens) Insert(ctx context.Context, rt *store.RefreshToken) error {
	_, err := r.coll.InsertOne(ctx, rt)
	return classify(err)
}

func (r refreshTokens) GetByHash(ctx context.Context, tokenHash string) (*store.RefreshToken, error) {
	var rt store.RefreshToken
	if err := r.coll.FindOne(ctx, bson.D{{Key: "token_hash", Value: tokenHash}}).Decode(&rt); err != nil {
		return nil, classify(err)
	}
	return &rt, nil
}

func (r refreshTokens) MarkUsed(ctx context.Context, id string) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "is_used", Value: false}, {Key: "is_revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "is_used", Value: true}}}},
	)
	if err != nil {
		return false, classify(err)
	}
	return res.ModifiedCount == 1, nil
}

func (r refreshTokens) RevokeByHash(ctx context.Context, tokenHash string) (int64, error) {
	return r.revokeWhere(ctx, bson.E{Key: "token_hash", Value: tokenHash})
}

func (r refreshTokens) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return r.revokeWhere(ctx, bson.E{Key: "family_id", Value: familyID})
}

func (r refreshTokens) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	return r.revokeWhere(ctx, bson.E{Key: "account_id", Value: accountID})
}

func (r refreshTokens) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "account_id", Value: accountID}})
	if err != nil {
		return 0, classify(err)
	}
	return res.DeletedCount, nil
}

func (r refreshTokens) revokeWhere(ctx context.Context, match bson.E) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.D{match, {Key: "is_revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "is_revoked", Value: true}}}},
	)
	if err != nil {
		return 0, classify(err)
	}
	return res.ModifiedCount, nil
}

/* ---------------- one-time codes ---------------- */

type otps struct {
	coll *mongo.Collection
}

func (r otps) Insert(ctx context.Context, o *store.OTP) error {
	_, err := r.coll.InsertOne(ctx, o)
	return classify(err)
}

func (r otps) GetActive(ctx context.Context, accountID string, purpose store.Purpose, now time.Time) (*store.OTP, error) {
	var o store.OTP
	err := r.coll.FindOne(ctx, bson.D{
		{Key: "account_id", Value: accountID},
		{Key: "purpose", Value: string(purpose)},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}).Decode(&o)
	if err != nil {
		return nil, classify(err)
	}
	return &o, nil
}

func (r otps) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var o store.OTP
	err := r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&o)
	if err != nil {
		return 0, classify(err)
	}
	return o.Attempts, nil
}

func (r otps) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r otps) DeleteForPurpose(ctx context.Context, accountID string, purpose store.Purpose) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "account_id", Value: accountID}, {Key: "purpose", Value: string(purpose)}})
	if err != nil {
		return 0, classify(err)
	}
	return res.DeletedCount, nil
}

func (r otps) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "account_id", Value: accountID}})
	if err != nil {
		return 0, classify(err)
	}
	return res.DeletedCount, nil
}

var _ store.Transactor = (*Store)(nil)
