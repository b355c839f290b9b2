package idp

import (
	"fmt"
	"net/http"

	"github.com/dgellow/authguard/internal/config"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// NewProvider creates a Provider from config. httpClient may be nil.
func NewProvider(cfg config.ProviderConfig, httpClient *http.Client) (Provider, error) {
	switch cfg.Type {
	case "google":
		return NewOIDCProvider(OIDCConfig{
			ProviderType:     "google",
			AuthorizationURL: google.Endpoint.AuthURL,
			TokenURL:         google.Endpoint.TokenURL,
			UserInfoURL:      googleUserInfoURL,
			ClientID:         cfg.ClientID,
			ClientSecret:     string(cfg.ClientSecret),
			RedirectURI:      cfg.RedirectURI,
			Scopes:           cfg.Scopes,
			HTTPClient:       httpClient,
		})

	case "azure":
		return NewAzureProvider(
			cfg.TenantID,
			cfg.ClientID,
			string(cfg.ClientSecret),
			cfg.RedirectURI,
			cfg.Scopes,
			httpClient,
		)

	case "github":
		return NewGitHubProvider(GitHubConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURI:  cfg.RedirectURI,
			AllowedOrgs:  cfg.AllowedOrgs,
			HTTPClient:   httpClient,
		})

	case "oidc", "":
		return NewOIDCProvider(OIDCConfig{
			ProviderType:     "oidc",
			DiscoveryURL:     cfg.DiscoveryURL,
			AuthorizationURL: cfg.AuthorizationURL,
			TokenURL:         cfg.TokenURL,
			UserInfoURL:      cfg.UserInfoURL,
			ClientID:         cfg.ClientID,
			ClientSecret:     string(cfg.ClientSecret),
			RedirectURI:      cfg.RedirectURI,
			Scopes:           cfg.Scopes,
			HTTPClient:       httpClient,
		})

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
