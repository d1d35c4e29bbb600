package goAccount

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/goAccount/credential"
	internalaudit "github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/rate"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/ledger"
	"github.com/MrEthical07/goAccount/ledger/redislock"
	"github.com/MrEthical07/goAccount/namecache"
	"github.com/MrEthical07/goAccount/otp"
	"github.com/MrEthical07/goAccount/store"
	"github.com/MrEthical07/goAccount/txn"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once at Build so that logins for unknown accounts
// spend the same time in the KDF as logins with a wrong password.
const dummyPassword = "goAccount-timing-equalizer"

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	store  store.Transactor
	redis  redis.UniversalClient

	mailer    Mailer
	names     NameCache
	locker    ledger.Locker
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The Builder keeps its own copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(tx store.Transactor) *Builder {
	b.store = tx
	return b
}

// WithRedis enables the login throttle, the rotation lock and the username
// cache, each subject to its own config switch.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the code delivery backend.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithNameCache overrides the Redis-backed username cache.
func (b *Builder) WithNameCache(c NameCache) *Builder {
	b.names = c
	return b
}

// WithRefreshLocker overrides the Redis rotation lock.
func (b *Builder) WithRefreshLocker(l ledger.Locker) *Builder {
	b.locker = l
	return b
}

// WithLogger sets the logger for best-effort failures. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Security.EnableLoginThrottle && b.redis == nil {
		return nil, errors.New("Security EnableLoginThrottle requires redis client")
	}
	if cfg.Security.EnableConfirmThrottle && b.redis == nil {
		return nil, errors.New("Security EnableConfirmThrottle requires redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- CREDENTIALS --------
	hasher, err := credential.New(credential.Config{
		Algorithm:  credential.Algorithm(cfg.Credentials.Algorithm),
		Argon2:     cfg.Credentials.Argon2,
		BcryptCost: cfg.Credentials.BcryptCost,
	})
	if err != nil {
		return nil, err
	}
	digest, err := credential.NewDigest(cloneBytes(cfg.Refresh.DigestKey))
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	codes, err := otp.New(hasher, otp.Config{
		Digits:         cfg.OTP.Digits,
		TTL:            cfg.OTP.TTL,
		ResendCooldown: cfg.OTP.ResendCooldown,
		MaxAttempts:    cfg.OTP.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	// -------- STORE --------
	coord, err := txn.New(b.store, txn.Config{Timeout: cfg.Store.TxTimeout})
	if err != nil {
		return nil, err
	}

	locker := b.locker
	if locker == nil && b.redis != nil && cfg.Refresh.UseRedisLock {
		locker = redislock.New(b.redis, 0)
	}
	refresh, err := ledger.New(digest, coord, locker, ledger.Config{LockTTL: cfg.Refresh.LockTTL}, logger)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		coord:      coord,
		hasher:     hasher,
		otp:        codes,
		jwtManager: jm,
		ledger:     refresh,
		mailer:     b.mailer,
		names:      b.names,
		logger:     logger,
		dummyHash:  dummyHash,
	}

	if b.redis != nil {
		if cfg.Security.EnableLoginThrottle {
			engine.rateLimiter = rate.New(b.redis, rate.Config{
				Prefix:                cfg.Security.RedisPrefix,
				EnableIPThrottle:      cfg.Security.EnableIPThrottle,
				MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
				LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
			})
		}
		if cfg.Security.EnableConfirmThrottle {
			engine.confirmLimiter = rate.New(b.redis, rate.Config{
				Prefix:                  cfg.Security.RedisPrefix,
				MaxConfirmAttempts:      cfg.Security.MaxConfirmAttempts,
				ConfirmCooldownDuration: cfg.Security.ConfirmCooldownDuration,
			})
		}
		if engine.names == nil {
			engine.names = namecache.New(b.redis, cfg.Security.RedisPrefix+":"+namecache.DefaultKey)
		}
	}
	if engine.mailer == nil {
		logger.Warn("goAccount: no mailer configured, one-time codes will not be delivered")
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Critical:   cfg.Audit.CriticalEvents,
		Logger:     logger,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return engine, nil
}
