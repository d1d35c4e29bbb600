package goAccount

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/credential"
)

// Config defines a public type used by goAccount APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT         JWTConfig
	Refresh     RefreshConfig
	Credentials CredentialConfig
	OTP         OTPConfig
	Policy      PolicyConfig
	Guest       GuestConfig
	Mail        MailConfig
	Security    SecurityConfig
	Store       StoreConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by goAccount APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
REFRESH LEDGER CONFIG
====================================
*/

// RefreshConfig controls refresh token bookkeeping.
type RefreshConfig struct {
	// DigestKey keys the HMAC under which refresh tokens are stored.
	DigestKey []byte
	// LockTTL bounds the per-token Redis lock when a Redis client is supplied.
	LockTTL time.Duration
	// UseRedisLock enables the advisory lock around rotation.
	UseRedisLock bool
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig selects the KDF for passwords and one-time codes.
type CredentialConfig struct {
	Algorithm  string // "argon2id" (default) or "bcrypt"
	Argon2     credential.Argon2Config
	BcryptCost int
	// UpgradeOnLogin rehashes argon2id passwords stored under weaker
	// parameters after a successful login.
	UpgradeOnLogin bool
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig tunes one-time codes for every purpose.
type OTPConfig struct {
	Digits         int
	TTL            time.Duration
	ResendCooldown time.Duration
	// MaxAttempts is the number of wrong guesses that locks a code.
	MaxAttempts    int
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig holds input policies enforced by signup, upgrade and reset.
type PolicyConfig struct {
	PasswordMinLength int
	PasswordMaxLength int
}

// GuestConfig shapes generated guest accounts.
type GuestConfig struct {
	Enabled     bool
	EmailDomain string
}

// MailConfig shapes outgoing code emails.
type MailConfig struct {
	ProductName string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by goAccount APIs.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	RedisPrefix           string

	// EnableConfirmThrottle bounds code confirmations per purpose, keyed by
	// the submitted identifier and by client IP. Requires Redis.
	EnableConfirmThrottle   bool
	MaxConfirmAttempts      int
	ConfirmCooldownDuration time.Duration
}

// StoreConfig bounds every unit of work.
type StoreConfig struct {
	TxTimeout time.Duration
}

// AuditConfig defines a public type used by goAccount APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled        bool
	BufferSize     int
	DropIfFull     bool
	// CriticalEvents are event types DropIfFull never discards. Emitting one
	// into a full queue waits for room, bounded by the request context.
	CriticalEvents []string
}

// MetricsConfig defines a public type used by goAccount APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "goaccount",
			Leeway:        30 * time.Second,
		},
		Refresh: RefreshConfig{
			LockTTL:      5 * time.Second,
			UseRedisLock: true,
		},
		Credentials: CredentialConfig{
			Algorithm: string(credential.AlgorithmArgon2id),
			Argon2: credential.Argon2Config{
				Memory:      65536,
				Time:        3,
				Parallelism: 2,
				SaltLength:  16,
				KeyLength:   32,
			},
			BcryptCost:     credential.MinBcryptCost,
			UpgradeOnLogin: true,
		},
		OTP: OTPConfig{
			Digits:         6,
			TTL:            10 * time.Minute,
			ResendCooldown: 60 * time.Second,
			MaxAttempts:    5,
		},
		Policy: PolicyConfig{
			PasswordMinLength: 12,
			PasswordMaxLength: 64,
		},
		Guest: GuestConfig{
			Enabled:     true,
			EmailDomain: "guest.local",
		},
		Mail: MailConfig{
			ProductName: "goAccount",
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			EnableIPThrottle:      false,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			RedisPrefix:           "goaccount",

			EnableConfirmThrottle:   true,
			MaxConfirmAttempts:      20,
			ConfirmCooldownDuration: 15 * time.Minute,
		},
		Store: StoreConfig{
			TxTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:        false,
			BufferSize:     1024,
			DropIfFull:     true,
			CriticalEvents: defaultCriticalAuditEvents(),
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the configuration Builder starts from. Keys are left
// empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

// defaultCriticalAuditEvents lists the events an incident review cannot
// rebuild from store state.
func defaultCriticalAuditEvents() []string {
	return []string{
		auditEventRefreshReuseDetected,
		auditEventPasswordResetConfirm,
		auditEventAccountDeleted,
		auditEventIdentityLinked,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Refresh.DigestKey = cloneBytes(cfg.Refresh.DigestKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.Audit.CriticalEvents != nil {
		out.Audit.CriticalEvents = append([]string(nil), cfg.Audit.CriticalEvents...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be > AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Refresh
	if len(c.Refresh.DigestKey) < credential.MinPepperBytes {
		return errors.New("Refresh DigestKey must be at least 32 bytes")
	}
	if c.Refresh.LockTTL < 0 {
		return errors.New("Refresh LockTTL must be >= 0")
	}

	// Credentials
	switch credential.Algorithm(c.Credentials.Algorithm) {
	case credential.AlgorithmArgon2id:
		if c.Credentials.Argon2.Memory < 8*1024 {
			return errors.New("Credentials Argon2 Memory must be >= 8192 KB")
		}
		if c.Credentials.Argon2.Time < 1 {
			return errors.New("Credentials Argon2 Time must be >= 1")
		}
		if c.Credentials.Argon2.Parallelism < 1 {
			return errors.New("Credentials Argon2 Parallelism must be >= 1")
		}
		if c.Credentials.Argon2.SaltLength < 16 {
			return errors.New("Credentials Argon2 SaltLength must be >= 16")
		}
		if c.Credentials.Argon2.KeyLength < 16 {
			return errors.New("Credentials Argon2 KeyLength must be >= 16")
		}
	case credential.AlgorithmBcrypt:
		if c.Credentials.BcryptCost != 0 && c.Credentials.BcryptCost < credential.MinBcryptCost {
			return errors.New("Credentials BcryptCost must be >= 12")
		}
	default:
		return errors.New("unsupported credential algorithm")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.ResendCooldown < 0 || c.OTP.ResendCooldown >= c.OTP.TTL {
		return errors.New("OTP ResendCooldown must be >= 0 and < TTL")
	}
	if c.OTP.MaxAttempts < 1 || c.OTP.MaxAttempts > 10 {
		return errors.New("OTP MaxAttempts must be between 1 and 10")
	}

	// Policy
	if c.Policy.PasswordMinLength < 8 {
		return errors.New("Policy PasswordMinLength must be >= 8")
	}
	if c.Policy.PasswordMaxLength < c.Policy.PasswordMinLength {
		return errors.New("Policy PasswordMaxLength must be >= PasswordMinLength")
	}
	if c.Policy.PasswordMaxLength > credential.DefaultMaxSecretBytes/4 {
		return errors.New("Policy PasswordMaxLength is too large")
	}

	// Guest
	if c.Guest.Enabled {
		domain := strings.TrimSpace(c.Guest.EmailDomain)
		if domain == "" || strings.ContainsAny(domain, "@ ") || !strings.Contains(domain, ".") {
			return errors.New("Guest EmailDomain must be a bare domain")
		}
	}

	// Mail
	if strings.TrimSpace(c.Mail.ProductName) == "" {
		return errors.New("Mail ProductName must be set")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0")
		}
	}
	if c.Security.EnableConfirmThrottle {
		if c.Security.MaxConfirmAttempts <= 0 {
			return errors.New("Security MaxConfirmAttempts must be > 0")
		}
		if c.Security.ConfirmCooldownDuration <= 0 {
			return errors.New("Security ConfirmCooldownDuration must be > 0")
		}
	}

	// Store
	if c.Store.TxTimeout <= 0 {
		return errors.New("Store TxTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
