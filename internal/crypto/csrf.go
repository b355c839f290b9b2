package crypto

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CSRFProtection issues stateless CSRF tokens bound to a session ID.
// A token is nonce:timestamp:signature where the signature covers the
// session ID as well, so a token stops validating once its session is gone.
type CSRFProtection struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewCSRFProtection returns a CSRF token issuer
func NewCSRFProtection(key []byte, ttl time.Duration) *CSRFProtection {
	return &CSRFProtection{key: key, ttl: ttl, now: time.Now}
}

// Generate creates a token for sessionID
func (c *CSRFProtection) Generate(sessionID string) (string, error) {
	nonce, err := GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	signature := SignData(csrfPayload(sessionID, nonce, timestamp), c.key)
	return nonce + ":" + timestamp + ":" + signature, nil
}

// Validate reports whether token was issued for sessionID and is unexpired
func (c *CSRFProtection) Validate(sessionID, token string) bool {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return false
	}
	nonce, timestamp, signature := parts[0], parts[1], parts[2]

	issued, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if c.ttl > 0 && c.now().Sub(time.Unix(issued, 0)) > c.ttl {
		return false
	}

	return ValidateSignedData(csrfPayload(sessionID, nonce, timestamp), signature, c.key)
}

func csrfPayload(sessionID, nonce, timestamp string) string {
	return sessionID + ":" + nonce + ":" + timestamp
}
