package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	ErrConnect     = errors.New("mongo: failed to connect")
	ErrHealthcheck = errors.New("mongo: healthcheck failed")
	ErrIndexes     = errors.New("mongo: failed to create indexes")
)

const (
	collAccounts   = "accounts"
	collIdentities = "account_identities"
	collTokens     = "refresh_tokens"
	collOTPs       = "otp_codes"
)

// Connect opens a client and pings it, retrying cfg.RetryAttempts times.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	var lastErr error
	for range max(cfg.RetryAttempts, 1) {
		client, err := mongo.Connect(
			options.Client().
				ApplyURI(cfg.ConnectionURL).
				SetConnectTimeout(cfg.ConnectTimeout).
				SetMaxPoolSize(cfg.MaxPoolSize).
				SetMinPoolSize(cfg.MinPoolSize).
				SetMaxConnIdleTime(cfg.MaxConnIdleTime).
				SetRetryWrites(true).
				SetRetryReads(true),
		)
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.WithoutCancel(ctx))
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnect, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, errors.Join(ErrConnect, lastErr)
}

// Healthcheck returns a readiness probe for client.
func Healthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return errors.Join(ErrHealthcheck, err)
		}
		return nil
	}
}

// EnsureIndexes creates the unique and TTL indexes. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		collAccounts: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetName("accounts_username").SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("accounts_email").SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "email", Value: bson.D{{Key: "$type", Value: "string"}}}}),
			},
			{
				Keys:    bson.D{{Key: "identities.provider", Value: 1}, {Key: "identities.subject", Value: 1}},
				Options: options.Index().SetName("accounts_identities"),
			},
		},
		collIdentities: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().SetName("identities_account_id"),
			},
		},
		collTokens: {
			{
				Keys:    bson.D{{Key: "token_hash", Value: 1}},
				Options: options.Index().SetName("refresh_tokens_token_hash").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "family_id", Value: 1}},
				Options: options.Index().SetName("refresh_tokens_family_id"),
			},
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().SetName("refresh_tokens_account_id"),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("refresh_tokens_ttl").SetExpireAfterSeconds(0),
			},
		},
		collOTPs: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "purpose", Value: 1}},
				Options: options.Index().SetName("otp_codes_account_purpose").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("otp_codes_ttl").SetExpireAfterSeconds(0),
			},
		},
	}

	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Join(ErrIndexes, err)
		}
	}
	return nil
}
