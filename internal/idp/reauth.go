package idp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/authguard/internal/crypto"
	"github.com/dgellow/authguard/internal/envutil"
	jsonwriter "github.com/dgellow/authguard/internal/json"
	"github.com/dgellow/authguard/internal/log"
	"github.com/dgellow/authguard/internal/recovery"
)

// StateCookieName holds the nonce of the sign-in in progress. A callback is
// only accepted from the browser that started it.
const StateCookieName = "authguard_oauth_state"

// StateTTL bounds how long a sign-in may take
const StateTTL = 10 * time.Minute

// AuthorizationState is the OAuth state parameter carried through the
// authorization code flow
type AuthorizationState struct {
	Nonce     string `json:"nonce"`
	ReturnURL string `json:"return_url"`
}

// SafeReturnURL returns raw when it is a same-origin relative path, and "/"
// otherwise
func SafeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return raw
}

// BrowserReauth restarts the authorization code flow by redirecting the
// browser to the identity provider
type BrowserReauth struct {
	Provider    Provider
	StateSigner *crypto.TokenSigner
	ReturnURL   string
	W           http.ResponseWriter
	R           *http.Request
}

var _ recovery.ReauthTrigger = (*BrowserReauth)(nil)

// Trigger writes a 302 to the provider's authorization endpoint and binds
// the state to this browser with a nonce cookie. Nothing is written when the
// auth URL cannot be built.
func (b *BrowserReauth) Trigger(ctx context.Context) error {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return fmt.Errorf("generating state nonce: %w", err)
	}
	state, err := b.StateSigner.Sign(AuthorizationState{
		Nonce:     nonce,
		ReturnURL: SafeReturnURL(b.ReturnURL),
	})
	if err != nil {
		return fmt.Errorf("signing state: %w", err)
	}

	authURL, err := b.Provider.AuthURL(ctx, state)
	if err != nil {
		return err
	}

	setStateCookie(b.W, nonce)
	log.LogDebugWithFields("idp", "Redirecting to identity provider", map[string]any{
		"provider":  b.Provider.Type(),
		"returnURL": SafeReturnURL(b.ReturnURL),
	})
	http.Redirect(b.W, b.R, authURL, http.StatusFound)
	return nil
}

// VerifyStateNonce reports whether r carries the state cookie for nonce
func VerifyStateNonce(r *http.Request, nonce string) bool {
	c, err := r.Cookie(StateCookieName)
	if err != nil || c.Value == "" || nonce == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(nonce)) == 1
}

func setStateCookie(w http.ResponseWriter, nonce string) {
	http.SetCookie(w, stateCookie(nonce, int(StateTTL.Seconds())))
}

// ClearStateCookie expires the state cookie
func ClearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, stateCookie("", -1))
}

// stateCookie is SameSite=Lax so it survives the top-level redirect back
// from the provider
func stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// APIReauth answers with a 401 Bearer challenge so API clients know to
// authenticate again. Error defaults to invalid_token regardless of the
// provider's code: the client's credential is its session, which recovery
// has already cleared (RFC 6750 section 3.1).
type APIReauth struct {
	W     http.ResponseWriter
	Realm string
	Error string
}

var _ recovery.ReauthTrigger = (*APIReauth)(nil)

func (a *APIReauth) Trigger(_ context.Context) error {
	code := a.Error
	if code == "" {
		code = recovery.CodeInvalidToken
	}
	jsonwriter.WriteUnauthorizedChallenge(a.W, jsonwriter.Challenge{
		Realm: a.Realm,
		Error: code,
	}, "authentication required")
	return nil
}
