package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/internal/config"
	"github.com/MrEthical07/goAccount/middleware"
	"github.com/MrEthical07/goAccount/store"
)

// Service is the slice of *goAccount.Engine the API drives.
type Service interface {
	Signup(ctx context.Context, req goAccount.SignupRequest) (*goAccount.SignupResult, error)
	VerifyEmail(ctx context.Context, address, code string) (*goAccount.Session, error)
	ResendOTP(ctx context.Context, address string, purpose store.Purpose) (goAccount.ResendOutcome, error)
	Login(ctx context.Context, identifier, password string) (*goAccount.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*goAccount.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	Authenticate(ctx context.Context, accessToken string) (*goAccount.Profile, error)
	ForgotPassword(ctx context.Context, identifier string) error
	ResetPassword(ctx context.Context, identifier, code, newPassword string) error
	CreateGuest(ctx context.Context) (*goAccount.Session, error)
	UpgradeGuest(ctx context.Context, accountID string, req goAccount.SignupRequest) error
	LoginWithIdentity(ctx context.Context, p identity.Profile) (*goAccount.Session, error)
	LinkIdentity(ctx context.Context, accountID string, p identity.Profile) error
	Profile(ctx context.Context, accountID string) (*goAccount.Profile, error)
	UpdateUsername(ctx context.Context, accountID, username string) (*goAccount.Profile, error)
	RequestAccountDeletion(ctx context.Context, accountID string) error
	DeleteAccount(ctx context.Context, accountID, code string) error
}

// Options wires the optional parts of the API.
type Options struct {
	Cookie     config.CookieConfig
	RefreshTTL time.Duration
	Identities identity.Registry
	Logger     *slog.Logger

	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string
	// Health checks run on GET /healthz; any error answers 503.
	Health []func(context.Context) error
}

// API holds the handlers. Build one with New.
type API struct {
	svc        Service
	cookies    cookieJar
	identities identity.Registry
	logger     *slog.Logger
	health     []func(context.Context) error
}

// New returns the router serving every account flow.
func New(svc Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{
		svc:        svc,
		cookies:    newCookieJar(opts.Cookie, opts.RefreshTTL),
		identities: opts.Identities,
		logger:     logger,
		health:     opts.Health,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(requestContext)

	r.Get("/healthz", a.healthz)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/signup", a.signup)
		r.Post("/verify-email", a.verifyEmail)
		r.Post("/resend-code", a.resendCode)
		r.Post("/login", a.login)
		r.Post("/refresh", a.refresh)
		r.Post("/logout", a.logout)
		r.Post("/password/forgot", a.forgotPassword)
		r.Post("/password/reset", a.resetPassword)
		r.Post("/guest", a.createGuest)

		r.Get("/oauth/{provider}/start", a.oauthStart)
		r.Get("/oauth/{provider}/callback", a.oauthCallback)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(svc))
			r.Get("/me", a.me)
			r.Patch("/me/username", a.updateUsername)
			r.Post("/me/upgrade", a.upgradeGuest)
			r.Post("/me/identities/{provider}", a.linkIdentity)
			r.Post("/me/deletion", a.requestDeletion)
			r.Delete("/me", a.deleteAccount)
		})
	})

	return r
}
