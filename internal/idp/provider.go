package idp

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/oauth2"
)

// Identity is the signed-in user as reported by the identity provider
type Identity struct {
	ProviderType  string `json:"provider_type"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture,omitempty"`
	Domain        string `json:"domain"`

	// Organizations is only populated by providers with an organization
	// concept, such as GitHub.
	Organizations []string `json:"organizations,omitempty"`
}

// Provider abstracts identity provider operations.
type Provider interface {
	// Type returns the provider type identifier, such as "oidc" or "github".
	Type() string

	// AuthURL returns the authorization endpoint URL for state. It fails
	// when the provider's endpoints cannot be resolved.
	AuthURL(ctx context.Context, state string) (string, error)

	// ExchangeCode exchanges an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// UserInfo fetches the identity behind token. OAuth2 error responses
	// come back as an error recovery.FromError recognizes.
	UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error)

	// TokenSource returns a source that refreshes token when it expires.
	TokenSource(ctx context.Context, token *oauth2.Token) (oauth2.TokenSource, error)
}

// ValidateDomain checks the email's domain against allowedDomains.
// An empty list allows every domain.
func ValidateDomain(email string, allowedDomains []string) error {
	if len(allowedDomains) == 0 {
		return nil
	}
	domain := emailDomain(email)
	if domain == "" {
		return fmt.Errorf("email '%s' has no domain", email)
	}
	if !slices.ContainsFunc(allowedDomains, func(d string) bool { return strings.EqualFold(d, domain) }) {
		return fmt.Errorf("domain '%s' is not allowed. Contact your administrator", domain)
	}
	return nil
}

// emailDomain returns the lowercased part after the last @, or ""
func emailDomain(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
