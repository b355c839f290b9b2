package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/dgellow/authguard/internal/recovery"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIBaseURL = "https://api.github.com"

// ErrOrganizationNotAllowed is returned by GitHubProvider.UserInfo when the
// user belongs to none of the allowed organizations
var ErrOrganizationNotAllowed = errors.New("not a member of an allowed organization")

// GitHubConfig configures a GitHub OAuth app
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// AllowedOrgs restricts sign-in to members of these organizations.
	// Empty allows everyone.
	AllowedOrgs []string

	HTTPClient *http.Client
}

// GitHubProvider implements Provider for GitHub OAuth apps. GitHub is plain
// OAuth 2.0, so identity comes from the REST API rather than a userinfo
// endpoint.
type GitHubProvider struct {
	config      oauth2.Config
	apiBaseURL  string
	allowedOrgs []string
	httpClient  *http.Client
}

var _ Provider = (*GitHubProvider)(nil)

type githubUserResponse struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmailResponse struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type githubOrgResponse struct {
	Login string `json:"login"`
}

type githubErrorResponse struct {
	Message string `json:"message"`
}

// NewGitHubProvider creates a GitHub provider
func NewGitHubProvider(cfg GitHubConfig) (*GitHubProvider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("clientId is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &GitHubProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"user:email", "read:org"},
			Endpoint:     github.Endpoint,
		},
		apiBaseURL:  githubAPIBaseURL,
		allowedOrgs: cfg.AllowedOrgs,
		httpClient:  httpClient,
	}, nil
}

func (p *GitHubProvider) Type() string {
	return "github"
}

func (p *GitHubProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *GitHubProvider) AuthURL(_ context.Context, state string) (string, error) {
	return p.config.AuthCodeURL(state), nil
}

func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(p.clientContext(ctx), code)
}

// TokenSource returns the token as is while it has no expiry, which is the
// case for classic OAuth app tokens.
func (p *GitHubProvider) TokenSource(ctx context.Context, token *oauth2.Token) (oauth2.TokenSource, error) {
	return p.config.TokenSource(p.clientContext(ctx), token), nil
}

// UserInfo fetches the user, falling back to the emails API when the
// profile has no public email. Organizations are always fetched and checked
// against AllowedOrgs.
func (p *GitHubProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	client := oauth2.NewClient(p.clientContext(ctx), oauth2.StaticTokenSource(token))

	var user githubUserResponse
	if err := p.get(ctx, client, "/user", &user); err != nil {
		return nil, err
	}

	// Emails on the public profile are always verified
	email, emailVerified := user.Email, user.Email != ""
	if email == "" {
		var err error
		if email, err = p.primaryEmail(ctx, client); err != nil {
			return nil, err
		}
		emailVerified = true
	}

	var orgs []githubOrgResponse
	if err := p.get(ctx, client, "/user/orgs", &orgs); err != nil {
		return nil, err
	}
	orgNames := make([]string, len(orgs))
	for i, org := range orgs {
		orgNames[i] = org.Login
	}

	if !memberOfAny(orgNames, p.allowedOrgs) {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotAllowed, user.Login)
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	return &Identity{
		ProviderType:  "github",
		Subject:       strconv.FormatInt(user.ID, 10),
		Email:         email,
		EmailVerified: emailVerified,
		Name:          name,
		Picture:       user.AvatarURL,
		Domain:        emailDomain(email),
		Organizations: orgNames,
	}, nil
}

// primaryEmail prefers the verified primary address, then any verified one
func (p *GitHubProvider) primaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []githubEmailResponse
	if err := p.get(ctx, client, "/user/emails", &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", fmt.Errorf("no verified email found on GitHub account")
}

func (p *GitHubProvider) get(ctx context.Context, client *http.Client, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return githubAPIError(resp, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// githubAPIError maps a failed API response. OAuth error bodies keep their
// code; a 401 means GitHub no longer accepts the token.
func githubAPIError(resp *http.Response, path string) error {
	body := readLimited(resp.Body, 4096)

	if rfcErr := decodeOAuthError(resp.StatusCode, body); rfcErr != nil {
		return rfcErr
	}
	if resp.StatusCode == http.StatusUnauthorized {
		var apiErr githubErrorResponse
		_ = json.Unmarshal([]byte(body), &apiErr)
		return recovery.NewAuthorizationError(recovery.CodeInvalidToken, apiErr.Message, body)
	}
	return fmt.Errorf("failed to get %s: status %d: %s", path, resp.StatusCode, body)
}

// memberOfAny matches organization logins case-insensitively. An empty
// allowed list matches everyone.
func memberOfAny(orgs, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	return slices.ContainsFunc(orgs, func(org string) bool {
		return slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, org) })
	})
}
