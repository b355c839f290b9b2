package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each gets an independent key from the configured secret so a
// signature made for one purpose never verifies for another.
const (
	PurposeSessionCookie = "authguard session cookie"
	PurposeOAuthState    = "authguard oauth state"
	PurposeCSRF          = "authguard csrf"
	PurposeTokenStorage  = "authguard token storage"
)

// DeriveKey expands secret into a 32-byte key bound to purpose
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}
