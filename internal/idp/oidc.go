package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dgellow/authguard/internal/log"
	"github.com/dgellow/authguard/internal/recovery"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// OIDCConfig configures a generic OIDC provider.
type OIDCConfig struct {
	// ProviderType identifies this provider, defaults to "oidc".
	ProviderType string

	// DiscoveryURL is fetched on first use when set. Otherwise all three
	// endpoints below are required.
	DiscoveryURL string

	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// HTTPClient is used for discovery, token and userinfo calls.
	HTTPClient *http.Client
}

// OIDCProvider implements Provider for OIDC-compliant identity providers.
// Endpoints from discovery are resolved once and cached. A failed discovery
// is retried on the next call.
type OIDCProvider struct {
	providerType string
	discoveryURL string
	httpClient   *http.Client

	discovery   singleflight.Group
	mu          sync.RWMutex
	resolved    bool
	config      oauth2.Config
	userInfoURL string
}

var _ Provider = (*OIDCProvider)(nil)

type oidcDiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

type oidcUserInfoResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

const defaultHTTPTimeout = 10 * time.Second

// NewOIDCProvider creates a provider. No network call is made until the
// first operation that needs an endpoint.
func NewOIDCProvider(cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.DiscoveryURL == "" && (cfg.AuthorizationURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "") {
		return nil, fmt.Errorf("either discoveryUrl or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("clientId is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	providerType := cfg.ProviderType
	if providerType == "" {
		providerType = "oidc"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	p := &OIDCProvider{
		providerType: providerType,
		discoveryURL: cfg.DiscoveryURL,
		httpClient:   httpClient,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
		},
	}
	if cfg.DiscoveryURL == "" {
		p.config.Endpoint = oauth2.Endpoint{AuthURL: cfg.AuthorizationURL, TokenURL: cfg.TokenURL}
		p.userInfoURL = cfg.UserInfoURL
		p.resolved = true
	}
	return p, nil
}

// Type returns the provider type.
func (p *OIDCProvider) Type() string {
	return p.providerType
}

// endpoints returns the oauth2 config and userinfo URL, running discovery
// on first use. Concurrent callers share one discovery request.
func (p *OIDCProvider) endpoints(ctx context.Context) (oauth2.Config, string, error) {
	if cfg, userInfoURL, ok := p.cachedEndpoints(); ok {
		return cfg, userInfoURL, nil
	}

	_, err, _ := p.discovery.Do("discovery", func() (any, error) {
		if _, _, ok := p.cachedEndpoints(); ok {
			return nil, nil
		}
		// Detached from ctx: every waiter shares this request
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultHTTPTimeout)
		defer cancel()

		discovery, err := p.fetchDiscovery(fetchCtx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.config.Endpoint = oauth2.Endpoint{
			AuthURL:  discovery.AuthorizationEndpoint,
			TokenURL: discovery.TokenEndpoint,
		}
		p.userInfoURL = discovery.UserInfoEndpoint
		p.resolved = true
		p.mu.Unlock()

		log.LogDebugWithFields("idp", "Resolved OIDC endpoints", map[string]any{
			"issuer": discovery.Issuer,
		})
		return nil, nil
	})
	if err != nil {
		return oauth2.Config{}, "", fmt.Errorf("failed to fetch OIDC discovery: %w", err)
	}

	cfg, userInfoURL, _ := p.cachedEndpoints()
	return cfg, userInfoURL, nil
}

func (p *OIDCProvider) cachedEndpoints() (oauth2.Config, string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config, p.userInfoURL, p.resolved
}

func (p *OIDCProvider) fetchDiscovery(ctx context.Context) (*oidcDiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating discovery request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, readLimited(resp.Body, 1024))
	}

	var discovery oidcDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if discovery.AuthorizationEndpoint == "" || discovery.TokenEndpoint == "" || discovery.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing required endpoints")
	}
	return &discovery, nil
}

// clientContext makes x/oauth2 use the provider's HTTP client
func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// AuthURL generates the authorization URL.
func (p *OIDCProvider) AuthURL(ctx context.Context, state string) (string, error) {
	cfg, _, err := p.endpoints(ctx)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	cfg, _, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Exchange(p.clientContext(ctx), code)
}

// TokenSource returns a refreshing source for token.
func (p *OIDCProvider) TokenSource(ctx context.Context, token *oauth2.Token) (oauth2.TokenSource, error) {
	cfg, _, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.TokenSource(p.clientContext(ctx), token), nil
}

// UserInfo fetches user identity from the OIDC userinfo endpoint. token is
// sent as is; refreshing it is up to the caller.
func (p *OIDCProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	_, userInfoURL, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	client := oauth2.NewClient(p.clientContext(ctx), oauth2.StaticTokenSource(token))
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, userInfoError(resp)
	}

	var userInfoResp oidcUserInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&userInfoResp); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	return &Identity{
		ProviderType:  p.providerType,
		Subject:       userInfoResp.Sub,
		Email:         userInfoResp.Email,
		EmailVerified: userInfoResp.EmailVerified,
		Name:          userInfoResp.Name,
		Picture:       userInfoResp.Picture,
		Domain:        emailDomain(userInfoResp.Email),
	}, nil
}

var challengeParamRegex = regexp.MustCompile(`([a-zA-Z_]+)\s*=\s*(?:"((?:[^"\\]|\\.)*)"|([^\s,]+))`)

// userInfoError turns a failed userinfo response into an error. A Bearer
// challenge (RFC 6750 section 3) with an error code produces a
// *recovery.AuthorizationError, and an RFC 6749 JSON error body a
// *fosite.RFC6749Error.
func userInfoError(resp *http.Response) error {
	body := readLimited(resp.Body, 4096)

	if challenge := resp.Header.Get("WWW-Authenticate"); challenge != "" {
		params := parseChallenge(challenge)
		if code := params["error"]; code != "" {
			return &recovery.AuthorizationError{
				Code:    code,
				Message: params["error_description"],
				Raw:     challenge,
			}
		}
	}

	if rfcErr := decodeOAuthError(resp.StatusCode, body); rfcErr != nil {
		return rfcErr
	}

	return fmt.Errorf("failed to get user info: status %d: %s", resp.StatusCode, body)
}

// parseChallenge extracts auth-params from a Bearer WWW-Authenticate value
func parseChallenge(header string) map[string]string {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(header), " ")
	params := make(map[string]string)
	if !strings.EqualFold(scheme, "Bearer") {
		return params
	}
	for _, m := range challengeParamRegex.FindAllStringSubmatch(rest, -1) {
		value := m[3]
		if m[3] == "" {
			value = strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(m[2])
		}
		params[strings.ToLower(m[1])] = value
	}
	return params
}

// readLimited reads up to limit bytes for use in error messages
func readLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return strings.TrimSpace(string(body))
}
