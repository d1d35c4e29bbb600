package identity

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const microsoftUserInfoURL = "https://graph.microsoft.com/oidc/userinfo"

// MicrosoftConfig configures the Microsoft identity platform provider.
type MicrosoftConfig struct {
	ClientID     string   `env:"MICROSOFT_OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"MICROSOFT_OAUTH_CLIENT_SECRET"`
	RedirectURL  string   `env:"MICROSOFT_OAUTH_REDIRECT_URL"`
	Tenant       string   `env:"MICROSOFT_OAUTH_TENANT" envDefault:"common"`
	Scopes       []string `env:"MICROSOFT_OAUTH_SCOPES" envSeparator:"," envDefault:"openid,email,profile,User.Read"`

	Endpoint    oauth2.Endpoint `env:"-"`
	UserInfoURL string          `env:"-"`
}

// Enabled reports whether client credentials are configured.
func (c MicrosoftConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// NewMicrosoft returns a Microsoft provider. The userinfo endpoint does not
// carry email_verified; addresses asserted by the tenant are trusted.
func NewMicrosoft(cfg MicrosoftConfig) *Provider {
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		tenant := cfg.Tenant
		if tenant == "" {
			tenant = "common"
		}
		endpoint = microsoft.AzureADEndpoint(tenant)
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = microsoftUserInfoURL
	}
	return &Provider{
		name: ProviderMicrosoft,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfo,
		trustEmail:  true,
		httpClient:  defaultHTTPClient,
	}
}
