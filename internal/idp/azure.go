package idp

import (
	"fmt"
	"net/http"
	"net/url"
)

const azureDiscoveryURLFormat = "https://login.microsoftonline.com/%s/v2.0/.well-known/openid-configuration"

// NewAzureProvider creates a Microsoft Entra ID provider. Entra ID speaks
// OIDC, so this is the generic provider pointed at the tenant's discovery
// document.
func NewAzureProvider(tenantID, clientID, clientSecret, redirectURI string, scopes []string, httpClient *http.Client) (*OIDCProvider, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantId is required for Azure AD")
	}

	return NewOIDCProvider(OIDCConfig{
		ProviderType: "azure",
		DiscoveryURL: fmt.Sprintf(azureDiscoveryURLFormat, url.PathEscape(tenantID)),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Scopes:       scopes,
		HTTPClient:   httpClient,
	})
}
