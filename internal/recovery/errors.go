package recovery

import (
	"errors"
	"fmt"

	"github.com/ory/fosite"
	"golang.org/x/oauth2"
)

// Provider error codes from RFC 6749 section 5.2 and RFC 6750 section 3.1
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidScope         = "invalid_scope"
	CodeInvalidToken         = "invalid_token"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeAccessDenied         = "access_denied"
	CodeServerError          = "server_error"
)

// AuthorizationError is a failure reported by the external authorization
// provider. Code is the provider's error identifier; Raw keeps whatever
// payload the provider returned so it can be logged later.
type AuthorizationError struct {
	Code    string
	Message string
	Raw     any
}

// NewAuthorizationError returns an immutable authorization error
func NewAuthorizationError(code, message string, raw any) *AuthorizationError {
	return &AuthorizationError{Code: code, Message: message, Raw: raw}
}

func (e *AuthorizationError) Error() string {
	switch {
	case e.Code == "" && e.Message == "":
		return "authorization error"
	case e.Message == "":
		return e.Code
	case e.Code == "":
		return e.Message
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// FromError extracts an AuthorizationError from err. It understands errors
// already of this type, x/oauth2 token endpoint failures and fosite RFC 6749
// errors, unwrapping as needed. Anything else is not an authorization error.
func FromError(err error) (*AuthorizationError, bool) {
	if err == nil {
		return nil, false
	}

	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return authErr, true
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		var raw any
		if len(retrieveErr.Body) > 0 {
			raw = string(retrieveErr.Body)
		}
		return NewAuthorizationError(retrieveErr.ErrorCode, retrieveErr.ErrorDescription, raw), true
	}

	var rfcErr *fosite.RFC6749Error
	if errors.As(err, &rfcErr) {
		return NewAuthorizationError(rfcErr.ErrorField, rfcErr.DescriptionField, rfcErr.ToValues()), true
	}

	return nil, false
}
