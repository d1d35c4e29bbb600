// Command goaccount-server serves the goAccount HTTP API.
//
// Configuration comes from the environment (and a .env file when present).
// The minimum for a development run with the in-memory store is:
//
//	JWT_PRIVATE_KEY_FILE=./jwt.pem
//	JWT_PUBLIC_KEY_FILE=./jwt.pub.pem
//	REFRESH_DIGEST_KEY=<32+ random bytes>
//	COOKIE_SECURE=false
//
// Set STORE_BACKEND=postgres (PG_CONN_URL) or STORE_BACKEND=mongo
// (MONGODB_URL) for durable storage, and REDIS_URL to enable the login
// throttle, the rotation lock and the username cache.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/email"
	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/internal/config"
	"github.com/MrEthical07/goAccount/internal/httpapi"
	otelexport "github.com/MrEthical07/goAccount/metrics/export/otel"
	promexport "github.com/MrEthical07/goAccount/metrics/export/prometheus"
	"github.com/MrEthical07/goAccount/namecache"
	"github.com/MrEthical07/goAccount/store"
	"github.com/MrEthical07/goAccount/store/memory"
	"github.com/MrEthical07/goAccount/store/mongo"
	"github.com/MrEthical07/goAccount/store/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("goAccount: server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()
	health := []func(context.Context) error{}
	if backend.health != nil {
		health = append(health, backend.health)
	}

	builder := goAccount.New().
		WithConfig(engineCfg).
		WithStore(backend.tx).
		WithLogger(logger).
		WithAuditSink(goAccount.NewSlogSink(logger.With("component", "audit")))

	if cfg.Redis.Enabled() {
		rdb, err := config.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		builder.WithRedis(rdb)
		health = append(health, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		// Warm the username cache from the store so the first signups do not
		// all fall through to it.
		names := namecache.New(rdb, engineCfg.Security.RedisPrefix+":"+namecache.DefaultKey)
		if lister, ok := backend.tx.(usernameLister); ok {
			if usernames, err := lister.Usernames(ctx); err == nil {
				if err := names.Seed(ctx, usernames); err != nil {
					logger.Warn("goAccount: username cache seed failed", "error", err)
				}
			}
		}
		builder.WithNameCache(names)
	} else {
		logger.Warn("goAccount: REDIS_URL not set, login throttle and rotation lock disabled")
	}

	mailer, err := newMailer(cfg.Mail, logger)
	if err != nil {
		return err
	}
	builder.WithMailer(mailer)

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Engine.OTelEnabled {
		exp, err := otelexport.New(otel.Meter("github.com/MrEthical07/goAccount"), engine)
		if err != nil {
			return err
		}
		defer exp.Close()
	}

	handler := httpapi.New(engine, httpapi.Options{
		Cookie:      cfg.Cookie,
		RefreshTTL:  engineCfg.JWT.RefreshTTL,
		Identities:  newIdentities(cfg, logger),
		Logger:      logger,
		Metrics:     promexport.New(engine).Handler(),
		MetricsPath: cfg.HTTP.MetricsPath,
		Health:      health,
	})

	if backend.purger != nil && cfg.HTTP.PurgeInterval > 0 {
		go purgeLoop(ctx, backend.purger, cfg.HTTP.PurgeInterval, logger)
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("goAccount: listening", "addr", cfg.HTTP.Addr, "store", string(cfg.Backend))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	logger.Info("goAccount: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

type purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type usernameLister interface {
	Usernames(ctx context.Context) ([]string, error)
}

type openedStore struct {
	tx     store.Transactor
	purger purger
	health func(context.Context) error
	close  func()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*openedStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool, cfg.Postgres, logger); err != nil {
			pool.Close()
			return nil, err
		}
		st := postgres.New(pool)
		return &openedStore{tx: st, purger: st, health: postgres.Healthcheck(pool), close: pool.Close}, nil

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		if err := mongo.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, err
		}
		st := mongo.New(db)
		return &openedStore{
			tx:     st,
			purger: st,
			health: mongo.Healthcheck(client),
			close:  func() { _ = client.Disconnect(context.Background()) },
		}, nil

	default:
		logger.Warn("goAccount: using the in-memory store, data is lost on restart")
		st := memory.New()
		return &openedStore{tx: st, purger: st, close: func() {}}, nil
	}
}

func newMailer(cfg email.Config, logger *slog.Logger) (goAccount.Mailer, error) {
	if cfg.UsePostmark() {
		sender, err := email.NewPostmarkSender(cfg)
		if err != nil {
			return nil, err
		}
		return sender, nil
	}
	logger.Warn("goAccount: Postmark not configured, writing mail to disk", "dir", cfg.DevOutputDir)
	return email.NewDevSender(cfg.DevOutputDir, logger), nil
}

func newIdentities(cfg config.Config, logger *slog.Logger) identity.Registry {
	var verifiers []identity.Verifier
	if cfg.Google.Enabled() {
		verifiers = append(verifiers, identity.NewGoogle(cfg.Google))
	}
	if cfg.Microsoft.Enabled() {
		verifiers = append(verifiers, identity.NewMicrosoft(cfg.Microsoft))
	}
	logger.Info("goAccount: identity providers", "count", len(verifiers))
	return identity.NewRegistry(verifiers...)
}

func purgeLoop(ctx context.Context, p purger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.PurgeExpired(ctx, now.UTC())
			if err != nil {
				logger.Warn("goAccount: purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("goAccount: purged expired rows", "count", n)
			}
		}
	}
}
