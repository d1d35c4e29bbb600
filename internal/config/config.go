// Package config loads the goaccount-server process configuration from the
// environment. A .env file in the working directory is read first when
// present; real environment variables always win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/email"
	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/store/mongo"
	"github.com/MrEthical07/goAccount/store/postgres"
)

// Backend names a store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendMongo    Backend = "mongo"
	BackendPostgres Backend = "postgres"
)

var (
	ErrParse          = errors.New("config: failed to parse environment")
	ErrInvalidBackend = errors.New("config: unsupported STORE_BACKEND")
	ErrMissingKey     = errors.New("config: missing key material")
)

// Config is everything goaccount-server needs to start.
type Config struct {
	LogFormat string     `env:"LOG_FORMAT" envDefault:"json"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	HTTP    HTTPConfig
	Cookie  CookieConfig
	Backend Backend `env:"STORE_BACKEND" envDefault:"memory"`
	Redis   RedisConfig
	Keys    KeyConfig
	Engine  EngineConfig

	Mail      email.Config
	Google    identity.GoogleConfig
	Microsoft identity.MicrosoftConfig

	// Only the selected backend is parsed.
	Postgres postgres.Config `env:"-"`
	Mongo    mongo.Config    `env:"-"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MetricsPath     string        `env:"HTTP_METRICS_PATH" envDefault:"/metrics"`
	PurgeInterval   time.Duration `env:"STORE_PURGE_INTERVAL" envDefault:"10m"`
}

// CookieConfig shapes the refresh and OAuth state cookies.
type CookieConfig struct {
	RefreshName string `env:"COOKIE_REFRESH_NAME" envDefault:"refresh_token"`
	StateName   string `env:"COOKIE_STATE_NAME" envDefault:"oauth_state"`
	Domain      string `env:"COOKIE_DOMAIN"`
	Path        string `env:"COOKIE_PATH" envDefault:"/"`
	Secure      bool   `env:"COOKIE_SECURE" envDefault:"true"`
	SameSite    string `env:"COOKIE_SAMESITE" envDefault:"lax"`
}

// SameSiteMode maps the configured name onto net/http. Unknown values fall
// back to Lax.
func (c CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// RedisConfig follows the usual REDIS_URL convention.
type RedisConfig struct {
	ConnectionURL  string        `env:"REDIS_URL"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool {
	return c.ConnectionURL != ""
}

// KeyConfig carries signing and digest secrets. Each key may be given inline
// or as a file path; the file wins when both are set. Ed25519 keys are PEM.
type KeyConfig struct {
	SigningMethod  string `env:"JWT_SIGNING_METHOD" envDefault:"ed25519"`
	PrivateKey     string `env:"JWT_PRIVATE_KEY"`
	PrivateKeyFile string `env:"JWT_PRIVATE_KEY_FILE,file"`
	PublicKey      string `env:"JWT_PUBLIC_KEY"`
	PublicKeyFile  string `env:"JWT_PUBLIC_KEY_FILE,file"`
	KeyID          string `env:"JWT_KEY_ID"`
	DigestKey      string `env:"REFRESH_DIGEST_KEY"`
	DigestKeyFile  string `env:"REFRESH_DIGEST_KEY_FILE,file"`
}

func pick(inline, file string) []byte {
	if file != "" {
		return []byte(strings.TrimSpace(file))
	}
	if inline == "" {
		return nil
	}
	return []byte(inline)
}

// EngineConfig overrides selected Engine defaults.
type EngineConfig struct {
	Issuer            string        `env:"JWT_ISSUER" envDefault:"goaccount"`
	Audience          string        `env:"JWT_AUDIENCE"`
	AccessTTL         time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL        time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	PasswordAlgorithm string        `env:"PASSWORD_ALGORITHM" envDefault:"argon2id"`
	OTPTTL            time.Duration `env:"OTP_TTL" envDefault:"10m"`
	OTPResendCooldown time.Duration `env:"OTP_RESEND_COOLDOWN" envDefault:"60s"`
	OTPMaxAttempts    int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	GuestEnabled      bool          `env:"GUEST_ENABLED" envDefault:"true"`
	GuestEmailDomain  string        `env:"GUEST_EMAIL_DOMAIN" envDefault:"guest.local"`
	LoginThrottle     bool          `env:"LOGIN_THROTTLE" envDefault:"true"`
	IPThrottle        bool          `env:"LOGIN_IP_THROTTLE" envDefault:"false"`
	MaxLoginAttempts  int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginCooldown     time.Duration `env:"LOGIN_COOLDOWN" envDefault:"15m"`
	ConfirmThrottle   bool          `env:"CONFIRM_THROTTLE" envDefault:"true"`
	ConfirmAttempts   int           `env:"CONFIRM_MAX_ATTEMPTS" envDefault:"20"`
	ConfirmCooldown   time.Duration `env:"CONFIRM_COOLDOWN" envDefault:"15m"`
	RedisPrefix       string        `env:"REDIS_PREFIX" envDefault:"goaccount"`
	TxTimeout         time.Duration `env:"STORE_TX_TIMEOUT" envDefault:"5s"`
	AuditEnabled      bool          `env:"AUDIT_ENABLED" envDefault:"true"`
	AuditBufferSize   int           `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
	AuditDropIfFull   bool          `env:"AUDIT_DROP_IF_FULL" envDefault:"true"`
	MetricsEnabled    bool          `env:"METRICS_ENABLED" envDefault:"true"`
	LatencyHistograms bool          `env:"METRICS_LATENCY_HISTOGRAMS" envDefault:"false"`
	OTelEnabled       bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
}

// Load reads .env (if any) and parses the environment.
func Load() (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the current environment without touching .env.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParse, err)
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendPostgres:
		if err := env.Parse(&cfg.Postgres); err != nil {
			return Config{}, errors.Join(ErrParse, err)
		}
	case BackendMongo:
		if err := env.Parse(&cfg.Mongo); err != nil {
			return Config{}, errors.Join(ErrParse, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidBackend, cfg.Backend)
	}

	return cfg, nil
}

// EngineConfig builds the Engine configuration from DefaultConfig and the
// environment overrides. The result is checked with Validate.
func (c Config) EngineConfig() (goAccount.Config, error) {
	out := goAccount.DefaultConfig()

	out.JWT.SigningMethod = strings.ToLower(c.Keys.SigningMethod)
	out.JWT.PrivateKey = pick(c.Keys.PrivateKey, c.Keys.PrivateKeyFile)
	out.JWT.PublicKey = pick(c.Keys.PublicKey, c.Keys.PublicKeyFile)
	out.JWT.KeyID = c.Keys.KeyID
	out.JWT.Issuer = c.Engine.Issuer
	out.JWT.Audience = c.Engine.Audience
	out.JWT.AccessTTL = c.Engine.AccessTTL
	out.JWT.RefreshTTL = c.Engine.RefreshTTL
	out.Refresh.DigestKey = pick(c.Keys.DigestKey, c.Keys.DigestKeyFile)
	out.Refresh.UseRedisLock = c.Redis.Enabled()

	if len(out.JWT.PrivateKey) == 0 {
		return goAccount.Config{}, fmt.Errorf("%w: JWT_PRIVATE_KEY", ErrMissingKey)
	}
	if len(out.Refresh.DigestKey) == 0 {
		return goAccount.Config{}, fmt.Errorf("%w: REFRESH_DIGEST_KEY", ErrMissingKey)
	}

	out.Credentials.Algorithm = strings.ToLower(c.Engine.PasswordAlgorithm)
	out.OTP.TTL = c.Engine.OTPTTL
	out.OTP.ResendCooldown = c.Engine.OTPResendCooldown
	out.OTP.MaxAttempts = c.Engine.OTPMaxAttempts
	out.Guest.Enabled = c.Engine.GuestEnabled
	out.Guest.EmailDomain = c.Engine.GuestEmailDomain
	out.Mail.ProductName = c.Mail.ProductName

	out.Security.EnableLoginThrottle = c.Engine.LoginThrottle && c.Redis.Enabled()
	out.Security.EnableIPThrottle = c.Engine.IPThrottle
	out.Security.MaxLoginAttempts = c.Engine.MaxLoginAttempts
	out.Security.LoginCooldownDuration = c.Engine.LoginCooldown
	out.Security.EnableConfirmThrottle = c.Engine.ConfirmThrottle && c.Redis.Enabled()
	out.Security.MaxConfirmAttempts = c.Engine.ConfirmAttempts
	out.Security.ConfirmCooldownDuration = c.Engine.ConfirmCooldown
	out.Security.RedisPrefix = c.Engine.RedisPrefix

	out.Store.TxTimeout = c.Engine.TxTimeout
	out.Audit.Enabled = c.Engine.AuditEnabled
	out.Audit.BufferSize = c.Engine.AuditBufferSize
	out.Audit.DropIfFull = c.Engine.AuditDropIfFull
	out.Metrics.Enabled = c.Engine.MetricsEnabled
	out.Metrics.EnableLatencyHistograms = c.Engine.LatencyHistograms

	if err := out.Validate(); err != nil {
		return goAccount.Config{}, err
	}
	return out, nil
}
