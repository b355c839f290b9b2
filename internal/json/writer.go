package json

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgellow/authguard/internal/log"
)

// ErrorResponse is the body of every JSON error authguard writes
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteResponse writes data as JSON with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes data as JSON with 200 OK
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError writes an ErrorResponse
func WriteError(w http.ResponseWriter, statusCode int, code string, message string) {
	if err := WriteResponse(w, statusCode, ErrorResponse{Error: code, Message: message}); err != nil {
		http.Error(w, code+": "+message, statusCode)
	}
}

// Challenge describes a Bearer WWW-Authenticate challenge (RFC 6750 section 3)
type Challenge struct {
	Realm       string
	Error       string
	Description string
}

func (c Challenge) String() string {
	params := make([]string, 0, 3)
	if c.Realm != "" {
		params = append(params, fmt.Sprintf(`realm="%s"`, escapeQuotedString(c.Realm)))
	}
	if c.Error != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, escapeQuotedString(c.Error)))
	}
	if c.Description != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, escapeQuotedString(c.Description)))
	}
	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}

// WriteUnauthorizedChallenge writes a 401 with a Bearer challenge header.
// The body error code is the challenge error, or "unauthorized" when empty.
func WriteUnauthorizedChallenge(w http.ResponseWriter, challenge Challenge, message string) {
	w.Header().Set("WWW-Authenticate", challenge.String())
	code := challenge.Error
	if code == "" {
		code = "unauthorized"
	}
	WriteError(w, http.StatusUnauthorized, code, message)
}

// escapeQuotedString escapes backslash and double-quote for an RFC 9110 quoted-string
func escapeQuotedString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_server_error", message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, "bad_gateway", message)
}
