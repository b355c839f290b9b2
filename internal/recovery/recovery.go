// Package recovery decides what happens when the authorization provider
// rejects a request mid-flight.
//
// Handle is a one-shot dispatch on the provider error code. For codes the
// policy marks as Reauthenticate it clears the request's session and then
// restarts authentication; everything else is returned to the caller as
// Unhandled so the framework's normal error path renders it.
//
// Handle runs on the request's goroutine and never checks ctx between the two
// steps. If the request is cancelled after the session is cleared but before
// the trigger finishes, the session stays cleared and no challenge reaches the
// client. Callers relying on this must make sure a cancelled request results
// in a failed response.
package recovery

import (
	"context"

	"github.com/dgellow/authguard/internal/log"
)

// Session is the request-scoped principal state. Clear must return only once
// the session is gone from wherever it is stored.
type Session interface {
	Clear(ctx context.Context) error
}

// ReauthTrigger restarts the external authentication handshake, for example
// by redirecting to the login page or answering 401.
type ReauthTrigger interface {
	Trigger(ctx context.Context) error
}

// SessionFunc adapts a function to Session
type SessionFunc func(ctx context.Context) error

func (f SessionFunc) Clear(ctx context.Context) error { return f(ctx) }

// TriggerFunc adapts a function to ReauthTrigger
type TriggerFunc func(ctx context.Context) error

func (f TriggerFunc) Trigger(ctx context.Context) error { return f(ctx) }

// Middleware applies a Policy to authorization errors
type Middleware struct {
	Policy Policy
}

// New returns a middleware using DefaultPolicy
func New() *Middleware {
	return &Middleware{Policy: DefaultPolicy}
}

// Classify returns the action for an error without side effects
func (m *Middleware) Classify(err *AuthorizationError) Action {
	if err == nil {
		return Propagate
	}
	return m.Policy.Classify(err.Code)
}

// Handle resolves err against the policy.
//
// On Reauthenticate it calls sess.Clear and, once that returns, reauth.Trigger,
// and reports Recovered. Errors from either call are returned as they are,
// without wrapping, together with Unhandled; a failed Clear skips the trigger.
// Any other classification returns Unhandled and a nil error without touching
// sess or reauth.
func (m *Middleware) Handle(ctx context.Context, err *AuthorizationError, sess Session, reauth ReauthTrigger) (Outcome, error) {
	if m.Classify(err) != Reauthenticate {
		if err != nil {
			log.LogDebugWithFields("recovery", "Authorization error left to default handling", map[string]any{
				"code": err.Code,
			})
		}
		return Unhandled, nil
	}

	if clearErr := sess.Clear(ctx); clearErr != nil {
		log.LogErrorWithFields("recovery", "Failed to clear session, not reauthenticating", map[string]any{
			"code":  err.Code,
			"error": clearErr.Error(),
		})
		return Unhandled, clearErr
	}

	if triggerErr := reauth.Trigger(ctx); triggerErr != nil {
		log.LogWarnWithFields("recovery", "Session cleared but reauthentication trigger failed", map[string]any{
			"code":  err.Code,
			"error": triggerErr.Error(),
		})
		return Unhandled, triggerErr
	}

	log.LogInfoWithFields("recovery", "Session cleared and reauthentication triggered", map[string]any{
		"code":    err.Code,
		"message": err.Message,
	})
	return Recovered, nil
}
