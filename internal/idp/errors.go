package idp

import (
	"encoding/json"

	"github.com/ory/fosite"
)

// decodeOAuthError reads an RFC 6749 section 5.2 error body. It returns nil
// when body is not JSON or carries no error code.
func decodeOAuthError(status int, body string) *fosite.RFC6749Error {
	var rfcErr fosite.RFC6749Error
	if err := json.Unmarshal([]byte(body), &rfcErr); err != nil || rfcErr.ErrorField == "" {
		return nil
	}
	rfcErr.CodeField = status
	return &rfcErr
}
