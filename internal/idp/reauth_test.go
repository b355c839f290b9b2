package idp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dgellow/authguard/internal/config"
	"github.com/dgellow/authguard/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStateKey = []byte("state-key-state-key-state-key-!!")

type failingProvider struct {
	Provider
	err error
}

func (f failingProvider) Type() string { return "failing" }

func (f failingProvider) AuthURL(context.Context, string) (string, error) {
	return "", f.err
}

func TestBrowserReauth_Trigger(t *testing.T) {
	idp := newFakeIdP(t)
	signer := crypto.NewTokenSigner(testStateKey, 10*time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	w := httptest.NewRecorder()
	trigger := &BrowserReauth{
		Provider:    idp.provider(t),
		StateSigner: signer,
		ReturnURL:   "/api/profile?tab=1",
		W:           w,
		R:           req,
	}
	require.NoError(t, trigger.Trigger(context.Background()))

	assert.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", location.Path)

	var state AuthorizationState
	require.NoError(t, signer.Verify(location.Query().Get("state"), &state))
	assert.Equal(t, "/api/profile?tab=1", state.ReturnURL)
	assert.NotEmpty(t, state.Nonce)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, StateCookieName, cookies[0].Name)
	assert.Equal(t, state.Nonce, cookies[0].Value)
	assert.Equal(t, int(StateTTL.Seconds()), cookies[0].MaxAge)
}

func TestVerifyStateNonce(t *testing.T) {
	withCookie := func(value string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
		r.AddCookie(&http.Cookie{Name: StateCookieName, Value: value})
		return r
	}

	assert.True(t, VerifyStateNonce(withCookie("abc"), "abc"))
	assert.False(t, VerifyStateNonce(withCookie("abc"), "xyz"))
	assert.False(t, VerifyStateNonce(withCookie(""), ""))
	assert.False(t, VerifyStateNonce(httptest.NewRequest(http.MethodGet, "/", nil), "abc"))

	w := httptest.NewRecorder()
	ClearStateCookie(w)
	cleared := w.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Negative(t, cleared[0].MaxAge)
}

func TestBrowserReauth_UnsafeReturnURL(t *testing.T) {
	idp := newFakeIdP(t)
	signer := crypto.NewTokenSigner(testStateKey, time.Minute)
	w := httptest.NewRecorder()

	trigger := &BrowserReauth{
		Provider:    idp.provider(t),
		StateSigner: signer,
		ReturnURL:   "https://evil.example.com/",
		W:           w,
		R:           httptest.NewRequest(http.MethodGet, "/", nil),
	}
	require.NoError(t, trigger.Trigger(context.Background()))

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	var state AuthorizationState
	require.NoError(t, signer.Verify(location.Query().Get("state"), &state))
	assert.Equal(t, "/", state.ReturnURL)
}

func TestBrowserReauth_ProviderFailure(t *testing.T) {
	networkErr := errors.New("dial tcp: connection refused")
	w := httptest.NewRecorder()
	trigger := &BrowserReauth{
		Provider:    failingProvider{err: networkErr},
		StateSigner: crypto.NewTokenSigner(testStateKey, time.Minute),
		W:           w,
		R:           httptest.NewRequest(http.MethodGet, "/", nil),
	}

	err := trigger.Trigger(context.Background())
	assert.Same(t, networkErr, err)
	assert.Empty(t, w.Header().Get("Location"), "nothing written on failure")
	assert.Empty(t, w.Header().Get("Set-Cookie"))
	assert.Empty(t, w.Body.String())
}

func TestAPIReauth_Trigger(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, (&APIReauth{W: w, Realm: "authguard"}).Trigger(context.Background()))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="authguard", error="invalid_token"`, w.Header().Get("WWW-Authenticate"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "invalid_token", body["error"])

	w = httptest.NewRecorder()
	require.NoError(t, (&APIReauth{W: w, Realm: "authguard", Error: "insufficient_scope"}).Trigger(context.Background()))
	assert.Equal(t, `Bearer realm="authguard", error="insufficient_scope"`, w.Header().Get("WWW-Authenticate"))
}

func TestSafeReturnURL(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/":                    "/",
		"/api/profile":         "/api/profile",
		"/a?b=c#d":             "/a?b=c#d",
		"//evil.example.com":   "/",
		"/\\evil.example.com":  "/",
		"https://evil.example": "/",
		"javascript:alert(1)":  "/",
		"relative/path":        "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeReturnURL(in), "input %q", in)
	}
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		allowed []string
		wantErr string
	}{
		{name: "no restriction", email: "a@anything.com"},
		{name: "allowed", email: "a@example.com", allowed: []string{"example.com"}},
		{name: "case insensitive", email: "A@Example.COM", allowed: []string{"example.com"}},
		{name: "not allowed", email: "a@other.com", allowed: []string{"example.com"}, wantErr: "domain 'other.com' is not allowed"},
		{name: "subdomain not allowed", email: "a@sub.example.com", allowed: []string{"example.com"}, wantErr: "is not allowed"},
		{name: "no domain", email: "nobody", allowed: []string{"example.com"}, wantErr: "has no domain"},
		{name: "trailing at", email: "a@", allowed: []string{"example.com"}, wantErr: "has no domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomain(tt.email, tt.allowed)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("oidc", func(t *testing.T) {
		p, err := NewProvider(config.ProviderConfig{
			Type:         "oidc",
			DiscoveryURL: "https://idp.example.com/.well-known/openid-configuration",
			ClientID:     "c",
			ClientSecret: "s",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "oidc", p.Type())
	})

	t.Run("google", func(t *testing.T) {
		p, err := NewProvider(config.ProviderConfig{Type: "google", ClientID: "c", ClientSecret: "s"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "google", p.Type())

		authURL, err := p.AuthURL(context.Background(), "st")
		require.NoError(t, err)
		assert.Contains(t, authURL, "accounts.google.com")
	})

	t.Run("azure", func(t *testing.T) {
		p, err := NewProvider(config.ProviderConfig{Type: "azure", TenantID: "contoso", ClientID: "c", ClientSecret: "s"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "azure", p.Type())
		assert.Contains(t, p.(*OIDCProvider).discoveryURL, "login.microsoftonline.com/contoso/")

		_, err = NewProvider(config.ProviderConfig{Type: "azure", ClientID: "c"}, nil)
		assert.ErrorContains(t, err, "tenantId is required")
	})

	t.Run("github", func(t *testing.T) {
		p, err := NewProvider(config.ProviderConfig{
			Type:         "github",
			ClientID:     "c",
			ClientSecret: "s",
			AllowedOrgs:  []string{"acme"},
		}, nil)
		require.NoError(t, err)
		require.IsType(t, &GitHubProvider{}, p)
		assert.Equal(t, []string{"acme"}, p.(*GitHubProvider).allowedOrgs)

		authURL, err := p.AuthURL(context.Background(), "st")
		require.NoError(t, err)
		assert.Contains(t, authURL, "github.com/login/oauth/authorize")
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewProvider(config.ProviderConfig{Type: "saml"}, nil)
		assert.ErrorContains(t, err, "unknown provider type: saml")
	})
}
