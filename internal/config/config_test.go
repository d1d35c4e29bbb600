package config_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goAccount/internal/config"
)

const testDigestKey = "0123456789abcdef0123456789abcdef"

func pemKeys(t *testing.T) (priv, pub string) {
	t.Helper()

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privDER, err := x509.MarshalPKCS8PrivateKey(privKey)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pubKey)
	require.NoError(t, err)

	priv = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	pub = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return priv, pub
}

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestParseDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "debug")
	unset(t, "HTTP_ADDR", "COOKIE_SAMESITE", "REDIS_URL")

	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, config.BackendMemory, cfg.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "refresh_token", cfg.Cookie.RefreshName)
	assert.True(t, cfg.Cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cfg.Cookie.SameSiteMode())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 15*time.Minute, cfg.Engine.AccessTTL)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"openid", "email", "profile"}, cfg.Google.Scopes)
}

func TestParseBackends(t *testing.T) {
	t.Run("postgres requires a connection url", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		unset(t, "PG_CONN_URL")

		_, err := config.Parse()
		require.ErrorIs(t, err, config.ErrParse)
	})

	t.Run("postgres", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("PG_CONN_URL", "postgres://localhost/goaccount")

		cfg, err := config.Parse()
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/goaccount", cfg.Postgres.ConnectionString)
		assert.Equal(t, "goaccount_migrations", cfg.Postgres.MigrationsTable)
	})

	t.Run("mongo", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "mongo")
		t.Setenv("MONGODB_URL", "mongodb://localhost:27017/?replicaSet=rs0")

		cfg, err := config.Parse()
		require.NoError(t, err)
		assert.Equal(t, "goaccount", cfg.Mongo.Database)
	})

	t.Run("memory ignores missing urls", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "memory")
		unset(t, "PG_CONN_URL", "MONGODB_URL")

		_, err := config.Parse()
		require.NoError(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "sqlite")

		_, err := config.Parse()
		require.ErrorIs(t, err, config.ErrInvalidBackend)
	})
}

func TestEngineConfig(t *testing.T) {
	priv, pub := pemKeys(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_PRIVATE_KEY", priv)
	t.Setenv("JWT_PUBLIC_KEY", pub)
	t.Setenv("REFRESH_DIGEST_KEY", testDigestKey)
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("PRODUCT_NAME", "Acme")
	unset(t, "REDIS_URL", "JWT_PRIVATE_KEY_FILE", "JWT_PUBLIC_KEY_FILE", "REFRESH_DIGEST_KEY_FILE")

	cfg, err := config.Parse()
	require.NoError(t, err)

	engineCfg, err := cfg.EngineConfig()
	require.NoError(t, err)

	assert.Equal(t, "ed25519", engineCfg.JWT.SigningMethod)
	assert.Equal(t, 5*time.Minute, engineCfg.JWT.AccessTTL)
	assert.Equal(t, []byte(testDigestKey), engineCfg.Refresh.DigestKey)
	assert.Equal(t, "Acme", engineCfg.Mail.ProductName)
	assert.False(t, engineCfg.Security.EnableLoginThrottle, "throttle needs redis")
	assert.False(t, engineCfg.Security.EnableConfirmThrottle, "throttle needs redis")
	assert.Equal(t, 5, engineCfg.OTP.MaxAttempts)
	assert.True(t, engineCfg.Audit.DropIfFull)
	assert.NotEmpty(t, engineCfg.Audit.CriticalEvents)
	assert.False(t, engineCfg.Refresh.UseRedisLock)
}

func TestEngineConfigKeyFiles(t *testing.T) {
	priv, pub := pemKeys(t)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "jwt.pem")
	pubPath := filepath.Join(dir, "jwt.pub.pem")
	digestPath := filepath.Join(dir, "digest")
	require.NoError(t, os.WriteFile(privPath, []byte(priv), 0o600))
	require.NoError(t, os.WriteFile(pubPath, []byte(pub), 0o600))
	require.NoError(t, os.WriteFile(digestPath, []byte(testDigestKey+"\n"), 0o600))

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_PRIVATE_KEY_FILE", privPath)
	t.Setenv("JWT_PUBLIC_KEY_FILE", pubPath)
	t.Setenv("REFRESH_DIGEST_KEY_FILE", digestPath)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	unset(t, "JWT_PRIVATE_KEY", "JWT_PUBLIC_KEY", "REFRESH_DIGEST_KEY")

	cfg, err := config.Parse()
	require.NoError(t, err)

	engineCfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte(testDigestKey), engineCfg.Refresh.DigestKey)
	assert.True(t, engineCfg.Security.EnableLoginThrottle)
	assert.True(t, engineCfg.Security.EnableConfirmThrottle)
	assert.Equal(t, 20, engineCfg.Security.MaxConfirmAttempts)
	assert.True(t, engineCfg.Refresh.UseRedisLock)
}

func TestEngineConfigMissingKeys(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	unset(t, "JWT_PRIVATE_KEY", "JWT_PRIVATE_KEY_FILE", "REFRESH_DIGEST_KEY", "REFRESH_DIGEST_KEY_FILE")

	cfg, err := config.Parse()
	require.NoError(t, err)

	_, err = cfg.EngineConfig()
	require.ErrorIs(t, err, config.ErrMissingKey)
}

func TestEngineConfigRejectsShortDigestKey(t *testing.T) {
	priv, pub := pemKeys(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_PRIVATE_KEY", priv)
	t.Setenv("JWT_PUBLIC_KEY", pub)
	t.Setenv("REFRESH_DIGEST_KEY", "short")
	unset(t, "JWT_PRIVATE_KEY_FILE", "JWT_PUBLIC_KEY_FILE", "REFRESH_DIGEST_KEY_FILE")

	cfg, err := config.Parse()
	require.NoError(t, err)

	_, err = cfg.EngineConfig()
	require.Error(t, err)
}

func TestSameSiteMode(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{"strict", http.SameSiteStrictMode},
		{"None", http.SameSiteNoneMode},
		{"lax", http.SameSiteLaxMode},
		{"bogus", http.SameSiteLaxMode},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, config.CookieConfig{SameSite: tt.in}.SameSiteMode(), tt.in)
	}
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := config.ConnectRedis(context.Background(), config.RedisConfig{
		ConnectionURL:  "redis://" + mr.Addr(),
		RetryAttempts:  1,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestConnectRedisBadURL(t *testing.T) {
	_, err := config.ConnectRedis(context.Background(), config.RedisConfig{ConnectionURL: "://nope"})
	require.ErrorIs(t, err, config.ErrRedisURL)
}
