package server

import (
	"errors"
	"net/http"

	"github.com/dgellow/authguard/internal/log"
	"github.com/dgellow/authguard/internal/recovery"
	"github.com/dgellow/authguard/internal/session"
)

// HandlerFunc is an HTTP handler that reports failure by returning an error
// instead of writing it. Handlers must not write a response before
// returning a non-nil error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ReauthFunc picks the reauthentication trigger for a request
type ReauthFunc func(w http.ResponseWriter, r *http.Request) recovery.ReauthTrigger

// ErrorRenderer writes an error response
type ErrorRenderer func(w http.ResponseWriter, r *http.Request, err error)

// Rescuer turns HandlerFunc errors into responses. Authorization errors go
// through the recovery middleware first; whatever it does not resolve is
// passed to Fallback.
type Rescuer struct {
	Recovery *recovery.Middleware
	Reauth   ReauthFunc
	Fallback ErrorRenderer
	Metrics  *Metrics
}

// Wrap adapts h to an http.Handler
func (rs *Rescuer) Wrap(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			rs.rescue(w, r, err)
		}
	})
}

func (rs *Rescuer) rescue(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrAuthenticationRequired) {
		rs.authenticate(w, r)
		return
	}

	authErr, ok := recovery.FromError(err)
	if !ok {
		rs.render(w, r, err)
		return
	}

	sess := session.FromContext(r.Context())
	if sess == nil {
		log.LogErrorWithFields("recovery", "No session on request, cannot recover", map[string]any{
			"code": authErr.Code,
			"path": r.URL.Path,
		})
		rs.Metrics.ObserveRecovery("no_session", authErr.Code)
		rs.render(w, r, err)
		return
	}

	outcome, handleErr := rs.Recovery.Handle(r.Context(), authErr, sess, rs.Reauth(w, r))
	switch {
	case outcome == recovery.Recovered:
		rs.Metrics.ObserveRecovery(outcome.String(), authErr.Code)
	case handleErr != nil:
		rs.Metrics.ObserveRecovery("failed", authErr.Code)
		rs.render(w, r, handleErr)
	default:
		rs.Metrics.ObserveRecovery(outcome.String(), authErr.Code)
		rs.render(w, r, err)
	}
}

// authenticate starts sign-in for an anonymous request
func (rs *Rescuer) authenticate(w http.ResponseWriter, r *http.Request) {
	if err := rs.Reauth(w, r).Trigger(r.Context()); err != nil {
		log.LogErrorWithFields("recovery", "Failed to start authentication", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		rs.render(w, r, err)
	}
}

func (rs *Rescuer) render(w http.ResponseWriter, r *http.Request, err error) {
	if rs.Fallback != nil {
		rs.Fallback(w, r, err)
		return
	}
	RenderError(w, r, err)
}
