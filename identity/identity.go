package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
)

var (
	// ErrProvider wraps every failure talking to the provider.
	ErrProvider = errors.New("identity: provider error")
	// ErrInvalidCode is returned when the provider rejects the authorization code.
	ErrInvalidCode = errors.New("identity: invalid authorization code")
	// ErrUnverifiedEmail is returned when the provider does not vouch for the email.
	ErrUnverifiedEmail = errors.New("identity: email is not verified by provider")
	// ErrIncompleteProfile is returned when the provider omits subject or email.
	ErrIncompleteProfile = errors.New("identity: provider returned an incomplete profile")
)

// Profile is the identity asserted by a provider after a code exchange.
// Email is lowercased.
type Profile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// Verifier turns an authorization code into a Profile.
type Verifier interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// Provider is an OAuth2 authorization-code client backed by an OIDC
// userinfo endpoint.
type Provider struct {
	name        string
	oauth       *oauth2.Config
	userInfoURL string
	trustEmail  bool
	httpClient  *http.Client
}

// Name returns the provider key stored with linked identities.
func (p *Provider) Name() string {
	return p.name
}

// AuthURL returns the consent page URL carrying state.
func (p *Provider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// WithHTTPClient replaces the client used for the token and userinfo calls.
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	p.httpClient = c
	return p
}

type userInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	// Microsoft work accounts may omit email and carry the UPN here.
	PreferredUsername string `json:"preferred_username"`
}

// Exchange trades code for a token and fetches the user's profile.
func (p *Provider) Exchange(ctx context.Context, code string) (*Profile, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrInvalidCode
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return nil, errors.Join(ErrInvalidCode, err)
		}
		return nil, fmt.Errorf("%w: token exchange: %v", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned status %d", ErrProvider, resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", ErrProvider, err)
	}

	email := info.Email
	if email == "" {
		email = info.PreferredUsername
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if info.Subject == "" || email == "" || !strings.Contains(email, "@") {
		return nil, ErrIncompleteProfile
	}

	verified := p.trustEmail
	if info.EmailVerified != nil {
		verified = *info.EmailVerified
	}
	if !verified {
		return nil, ErrUnverifiedEmail
	}

	return &Profile{
		Provider:      p.name,
		Subject:       info.Subject,
		Email:         email,
		EmailVerified: verified,
		Name:          strings.TrimSpace(info.Name),
		AvatarURL:     info.Picture,
	}, nil
}

// NewState returns a random URL-safe value for the OAuth2 state parameter.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Registry looks verifiers up by provider name.
type Registry map[string]Verifier

// NewRegistry indexes verifiers by Name. Nil entries are skipped.
func NewRegistry(verifiers ...Verifier) Registry {
	r := make(Registry, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			r[v.Name()] = v
		}
	}
	return r
}

// Get returns the verifier for name.
func (r Registry) Get(name string) (Verifier, bool) {
	v, ok := r[name]
	return v, ok
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

var _ Verifier = (*Provider)(nil)
