package middleware

import (
	"context"
	"net/http"
	"strings"

	goAccount "github.com/MrEthical07/goAccount"
)

// Authenticator is satisfied by *goAccount.Engine.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*goAccount.Profile, error)
}

type profileContextKey struct{}

// ProfileFromContext returns the profile stored by Guard.
func ProfileFromContext(ctx context.Context) (*goAccount.Profile, bool) {
	p, ok := ctx.Value(profileContextKey{}).(*goAccount.Profile)
	return p, ok
}

// WithProfile stores p the way Guard does. Useful for handler tests.
func WithProfile(ctx context.Context, p *goAccount.Profile) context.Context {
	return context.WithValue(ctx, profileContextKey{}, p)
}

// Guard rejects requests without a valid access token with 401. An
// unavailable backend answers 503 so clients retry instead of logging out.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, nil)
}

// RequireVerified is Guard plus a 403 for accounts whose email is unverified.
func RequireVerified(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, func(p *goAccount.Profile) bool { return p.IsVerified })
}

// RequireRegistered is Guard plus a 403 for guest accounts.
func RequireRegistered(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, func(p *goAccount.Profile) bool { return !p.IsGuest })
}

func guard(auth Authenticator, allow func(*goAccount.Profile) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			profile, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if goAccount.KindOf(err) == goAccount.KindUnavailable {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if allow != nil && !allow(profile) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
