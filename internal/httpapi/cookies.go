package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/goAccount/internal/config"
)

const stateTTL = 10 * time.Minute

type cookieJar struct {
	cfg        config.CookieConfig
	refreshTTL time.Duration
}

func newCookieJar(cfg config.CookieConfig, refreshTTL time.Duration) cookieJar {
	if cfg.RefreshName == "" {
		cfg.RefreshName = "refresh_token"
	}
	if cfg.StateName == "" {
		cfg.StateName = "oauth_state"
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return cookieJar{cfg: cfg, refreshTTL: refreshTTL}
}

func (j cookieJar) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     j.cfg.Path,
		Domain:   j.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   j.cfg.Secure,
		SameSite: j.cfg.SameSiteMode(),
	}
}

func (j cookieJar) setRefresh(w http.ResponseWriter, token string) {
	http.SetCookie(w, j.cookie(j.cfg.RefreshName, token, int(j.refreshTTL.Seconds())))
}

func (j cookieJar) clearRefresh(w http.ResponseWriter) {
	http.SetCookie(w, j.cookie(j.cfg.RefreshName, "", -1))
}

func (j cookieJar) refresh(r *http.Request) string {
	c, err := r.Cookie(j.cfg.RefreshName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (j cookieJar) setState(w http.ResponseWriter, state string) {
	c := j.cookie(j.cfg.StateName, state, int(stateTTL.Seconds()))
	// The provider redirects back cross-site; Strict would drop the cookie.
	if c.SameSite == http.SameSiteStrictMode {
		c.SameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, c)
}

// takeState returns the state cookie and clears it.
func (j cookieJar) takeState(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(j.cfg.StateName)
	if err != nil {
		return ""
	}
	http.SetCookie(w, j.cookie(j.cfg.StateName, "", -1))
	return c.Value
}
