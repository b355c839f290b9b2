package server

import (
	"errors"
	"fmt"
	"net/http"

	jsonwriter "github.com/dgellow/authguard/internal/json"
	"github.com/dgellow/authguard/internal/log"
	"github.com/dgellow/authguard/internal/recovery"
)

var (
	// ErrInvalidCSRFToken is returned by CSRF protection for a missing or bad token
	ErrInvalidCSRFToken = errors.New("invalid CSRF token")

	// ErrAuthenticationRequired is returned by RequireAuth for anonymous requests
	ErrAuthenticationRequired = errors.New("authentication required")
)

// HTTPError is an error with a status code and a client-safe code and message
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Code, e.Err)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError wraps err with a status and a client-facing code and message
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

// RenderError is the default error renderer. Internal error text and
// authorization error codes are never sent to the client.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr):
		if httpErr.Status >= 500 {
			logRequestError(r, httpErr.Status, err)
		}
		jsonwriter.WriteError(w, httpErr.Status, httpErr.Code, httpErr.Message)

	case errors.Is(err, ErrInvalidCSRFToken):
		log.LogWarnWithFields("csrf", "Rejected request with invalid CSRF token", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		jsonwriter.WriteError(w, http.StatusForbidden, "invalid_csrf_token", "Invalid or missing CSRF token")

	case errors.Is(err, ErrAuthenticationRequired):
		jsonwriter.WriteUnauthorized(w, "Authentication required")

	default:
		logRequestError(r, http.StatusInternalServerError, err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
	}
}

func logRequestError(r *http.Request, status int, err error) {
	fields := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	}
	if authErr, ok := recovery.FromError(err); ok {
		fields["code"] = authErr.Code
		if authErr.Raw != nil {
			fields["raw"] = authErr.Raw
		}
	}
	log.LogErrorWithFields("http", "Request failed", fields)
}
