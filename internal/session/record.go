package session

import (
	"fmt"
	"time"

	"github.com/dgellow/authguard/internal/crypto"
	"golang.org/x/oauth2"
)

// Record is a signed-in user's server-side session
type Record struct {
	ID        string
	Subject   string
	Email     string
	Name      string
	Provider  string
	Token     *oauth2.Token
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is past its expiry at now
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// storedRecord is the persisted form of a Record. Access and refresh tokens
// are encrypted.
type storedRecord struct {
	ID           string    `json:"id" firestore:"id"`
	Subject      string    `json:"sub" firestore:"subject"`
	Email        string    `json:"email" firestore:"email"`
	Name         string    `json:"name,omitempty" firestore:"name,omitempty"`
	Provider     string    `json:"provider" firestore:"provider"`
	AccessToken  string    `json:"access_token,omitempty" firestore:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty" firestore:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty" firestore:"token_type,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitzero" firestore:"token_expiry,omitempty"`
	CreatedAt    time.Time `json:"created_at" firestore:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" firestore:"expires_at"`
}

// codec converts between Record and storedRecord
type codec struct {
	encryptor crypto.Encryptor
}

func newCodec(encryptor crypto.Encryptor) (codec, error) {
	if encryptor == nil {
		return codec{}, fmt.Errorf("encryptor is required")
	}
	return codec{encryptor: encryptor}, nil
}

func (c codec) encode(r *Record) (*storedRecord, error) {
	s := &storedRecord{
		ID:        r.ID,
		Subject:   r.Subject,
		Email:     r.Email,
		Name:      r.Name,
		Provider:  r.Provider,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
	if r.Token == nil {
		return s, nil
	}

	var err error
	if r.Token.AccessToken != "" {
		if s.AccessToken, err = c.encryptor.Encrypt(r.Token.AccessToken); err != nil {
			return nil, fmt.Errorf("encrypting access token: %w", err)
		}
	}
	if r.Token.RefreshToken != "" {
		if s.RefreshToken, err = c.encryptor.Encrypt(r.Token.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypting refresh token: %w", err)
		}
	}
	s.TokenType = r.Token.TokenType
	s.TokenExpiry = r.Token.Expiry
	return s, nil
}

func (c codec) decode(s *storedRecord) (*Record, error) {
	r := &Record{
		ID:        s.ID,
		Subject:   s.Subject,
		Email:     s.Email,
		Name:      s.Name,
		Provider:  s.Provider,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	if s.AccessToken == "" && s.RefreshToken == "" {
		return r, nil
	}

	token := &oauth2.Token{TokenType: s.TokenType, Expiry: s.TokenExpiry}
	var err error
	if s.AccessToken != "" {
		if token.AccessToken, err = c.encryptor.Decrypt(s.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypting access token: %w", err)
		}
	}
	if s.RefreshToken != "" {
		if token.RefreshToken, err = c.encryptor.Decrypt(s.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypting refresh token: %w", err)
		}
	}
	r.Token = token
	return r, nil
}
