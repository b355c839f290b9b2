package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/authguard/internal/crypto"
	"github.com/dgellow/authguard/internal/idp"
	jsonwriter "github.com/dgellow/authguard/internal/json"
	"github.com/dgellow/authguard/internal/log"
	"github.com/dgellow/authguard/internal/session"
)

const (
	callbackPath    = "/oauth/callback"
	exchangeTimeout = 30 * time.Second
)

var errStateNotBound = errors.New("state nonce does not match this browser")

// AuthHandlers serves sign-in, sign-out and the session-backed API
type AuthHandlers struct {
	provider       idp.Provider
	stateSigner    *crypto.TokenSigner
	csrf           *crypto.CSRFProtection
	allowedDomains []string
}

// NewAuthHandlers creates the handlers
func NewAuthHandlers(provider idp.Provider, stateSigner *crypto.TokenSigner, csrf *crypto.CSRFProtection, allowedDomains []string) *AuthHandlers {
	return &AuthHandlers{
		provider:       provider,
		stateSigner:    stateSigner,
		csrf:           csrf,
		allowedDomains: allowedDomains,
	}
}

// LoginHandler starts the authorization code flow, returning to ?return_to
// afterwards. Signed-in users are sent straight there.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) error {
	returnTo := idp.SafeReturnURL(r.URL.Query().Get("return_to"))

	if sess := session.FromContext(r.Context()); sess != nil && sess.Authenticated() {
		http.Redirect(w, r, returnTo, http.StatusFound)
		return nil
	}

	trigger := &idp.BrowserReauth{
		Provider:    h.provider,
		StateSigner: h.stateSigner,
		ReturnURL:   returnTo,
		W:           w,
		R:           r,
	}
	if err := trigger.Trigger(r.Context()); err != nil {
		return NewHTTPError(http.StatusBadGateway, "provider_unavailable", "Identity provider unavailable", err)
	}
	return nil
}

// CallbackHandler completes sign-in. Its errors are rendered directly and
// never go through authorization recovery.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	// Single use, whatever the outcome
	idp.ClearStateCookie(w)

	if errCode := query.Get("error"); errCode != "" {
		log.LogWarnWithFields("auth", "Provider returned an authorization error", map[string]any{
			"error":       errCode,
			"description": query.Get("error_description"),
		})
		return NewHTTPError(http.StatusBadRequest, "authentication_failed", "Authentication failed", nil)
	}

	state, code := query.Get("state"), query.Get("code")
	if state == "" || code == "" {
		return NewHTTPError(http.StatusBadRequest, "invalid_callback", "Invalid callback parameters", nil)
	}

	var authState idp.AuthorizationState
	if err := h.stateSigner.Verify(state, &authState); err != nil {
		return NewHTTPError(http.StatusBadRequest, "invalid_state", "Invalid state parameter", err)
	}
	if !idp.VerifyStateNonce(r, authState.Nonce) {
		return NewHTTPError(http.StatusBadRequest, "invalid_state", "Invalid state parameter", errStateNotBound)
	}

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()

	token, err := h.provider.ExchangeCode(ctx, code)
	if err != nil {
		return NewHTTPError(http.StatusBadGateway, "exchange_failed", "Authentication failed", err)
	}

	identity, err := h.provider.UserInfo(ctx, token)
	if errors.Is(err, idp.ErrOrganizationNotAllowed) {
		log.LogWarnWithFields("auth", "Sign-in rejected", map[string]any{
			"error": err.Error(),
		})
		return NewHTTPError(http.StatusForbidden, "access_denied", "Access denied", nil)
	}
	if err != nil {
		return NewHTTPError(http.StatusBadGateway, "userinfo_failed", "Authentication failed", err)
	}

	if err := idp.ValidateDomain(identity.Email, h.allowedDomains); err != nil {
		log.LogWarnWithFields("auth", "Sign-in rejected", map[string]any{
			"email": identity.Email,
			"error": err.Error(),
		})
		return NewHTTPError(http.StatusForbidden, "access_denied", "Access denied", nil)
	}

	sess := session.FromContext(r.Context())
	if sess == nil {
		return fmt.Errorf("no session handle on callback request")
	}
	if err := sess.Login(ctx, &session.Record{
		Subject:  identity.Subject,
		Email:    identity.Email,
		Name:     identity.Name,
		Provider: h.provider.Type(),
		Token:    token,
	}); err != nil {
		return err
	}

	log.Logf("User authenticated: %s", identity.Email)
	http.Redirect(w, r, idp.SafeReturnURL(authState.ReturnURL), http.StatusFound)
	return nil
}

// LogoutHandler clears the session
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) error {
	if sess := session.FromContext(r.Context()); sess != nil {
		if err := sess.Clear(r.Context()); err != nil {
			return err
		}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// CSRFTokenHandler issues a CSRF token for the request's session
func (h *AuthHandlers) CSRFTokenHandler(w http.ResponseWriter, r *http.Request) error {
	token, err := h.csrf.Generate(sessionID(r))
	if err != nil {
		return err
	}

	w.Header().Set(CSRFHeader, token)
	if err := jsonwriter.Write(w, map[string]string{"csrf_token": token}); err != nil {
		log.LogError("Failed to write CSRF token response: %v", err)
	}
	return nil
}

type profileResponse struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Provider      string `json:"provider"`
}

// ProfileHandler fetches the signed-in user's profile from the provider with
// the stored token, refreshing and persisting it when it has expired.
// Provider rejections are returned for the rescuer to handle.
func (h *AuthHandlers) ProfileHandler(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	rec := sess.Record()

	source, err := h.provider.TokenSource(ctx, rec.Token)
	if err != nil {
		return fmt.Errorf("building token source: %w", err)
	}
	token, err := source.Token()
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	if rec.Token == nil || token.AccessToken != rec.Token.AccessToken {
		if err := sess.UpdateToken(ctx, token); err != nil {
			return err
		}
		log.LogDebugWithFields("auth", "Persisted refreshed token", map[string]any{
			"user": rec.Email,
		})
	}

	identity, err := h.provider.UserInfo(ctx, token)
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}

	if err := jsonwriter.Write(w, profileResponse{
		Subject:       identity.Subject,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		Name:          identity.Name,
		Picture:       identity.Picture,
		Provider:      identity.ProviderType,
	}); err != nil {
		log.LogError("Failed to write profile response: %v", err)
	}
	return nil
}
