package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.Len(t, token, 43)

	other, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
	assert.NotContains(t, token, ":")
	assert.NotContains(t, token, ".")
}

func TestSignData(t *testing.T) {
	sig := SignData("hello", testKey)
	assert.True(t, ValidateSignedData("hello", sig, testKey))
	assert.False(t, ValidateSignedData("hello!", sig, testKey))
	assert.False(t, ValidateSignedData("hello", sig, []byte("another-key-another-key-another!!")))
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey(testKey, PurposeCSRF)
	require.NoError(t, err)
	b, err := DeriveKey(testKey, PurposeOAuthState)
	require.NoError(t, err)
	again, err := DeriveKey(testKey, PurposeCSRF)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)

	_, err = DeriveKey([]byte("short"), PurposeCSRF)
	assert.ErrorContains(t, err, "at least 32 bytes")
}

func TestEncryptor(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("ya29.access-token")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "access-token")

	second, err := enc.Encrypt("ya29.access-token")
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, second, "nonce must differ per encryption")

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", plaintext)

	t.Run("tampered", func(t *testing.T) {
		tampered := []byte(ciphertext)
		last := len(tampered) - 1
		if tampered[last] == 'A' {
			tampered[last] = 'B'
		} else {
			tampered[last] = 'A'
		}
		_, err := enc.Decrypt(string(tampered))
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := enc.Decrypt("AAAA")
		assert.Error(t, err)
	})

	t.Run("bad key length", func(t *testing.T) {
		_, err := NewEncryptor([]byte("short"))
		assert.ErrorContains(t, err, "key must be 32 bytes")
	})
}

type statePayload struct {
	Nonce     string `json:"nonce"`
	ReturnURL string `json:"return_url"`
}

func TestTokenSigner(t *testing.T) {
	signer := NewTokenSigner(testKey, 10*time.Minute)
	token, err := signer.Sign(statePayload{Nonce: "n", ReturnURL: "/api/profile"})
	require.NoError(t, err)

	var got statePayload
	require.NoError(t, signer.Verify(token, &got))
	assert.Equal(t, "/api/profile", got.ReturnURL)

	t.Run("bad signature", func(t *testing.T) {
		payload, _, _ := strings.Cut(token, ".")
		err := signer.Verify(payload+".forged", &got)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewTokenSigner([]byte("ffffffffffffffffffffffffffffffff"), time.Minute)
		assert.ErrorIs(t, other.Verify(token, &got), ErrInvalidSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		assert.Error(t, signer.Verify("no-dot", &got))
		assert.Error(t, signer.Verify(".sig", &got))
	})

	t.Run("expired", func(t *testing.T) {
		signer.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
		defer func() { signer.now = time.Now }()
		assert.ErrorIs(t, signer.Verify(token, &got), ErrTokenExpired)
	})

	t.Run("no ttl never expires", func(t *testing.T) {
		forever := NewTokenSigner(testKey, 0)
		tok, err := forever.Sign(statePayload{Nonce: "x"})
		require.NoError(t, err)
		forever.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
		assert.NoError(t, forever.Verify(tok, &got))
	})
}

func TestCSRFProtection(t *testing.T) {
	csrf := NewCSRFProtection(testKey, time.Hour)

	token, err := csrf.Generate("session-1")
	require.NoError(t, err)

	assert.True(t, csrf.Validate("session-1", token))
	assert.False(t, csrf.Validate("session-2", token), "token is bound to its session")
	assert.False(t, csrf.Validate("session-1", ""))
	assert.False(t, csrf.Validate("session-1", "a:b"))
	assert.False(t, csrf.Validate("session-1", "a:notanumber:c"))

	parts := strings.SplitN(token, ":", 3)
	assert.False(t, csrf.Validate("session-1", parts[0]+":"+parts[1]+":forged"))

	csrf.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.False(t, csrf.Validate("session-1", token), "expired token")
}
