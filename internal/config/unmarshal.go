package config

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON resolves env references in provider fields
func (p *ProviderConfig) UnmarshalJSON(data []byte) error {
	type rawProvider struct {
		Type             string          `json:"type"`
		TenantID         json.RawMessage `json:"tenantId"`
		DiscoveryURL     json.RawMessage `json:"discoveryUrl"`
		AuthorizationURL json.RawMessage `json:"authorizationUrl"`
		TokenURL         json.RawMessage `json:"tokenUrl"`
		UserInfoURL      json.RawMessage `json:"userInfoUrl"`
		ClientID         json.RawMessage `json:"clientId"`
		ClientSecret     json.RawMessage `json:"clientSecret"`
		RedirectURI      json.RawMessage `json:"redirectUri"`
		Scopes           []string        `json:"scopes"`
		AllowedOrgs      []string        `json:"allowedOrgs"`
	}

	var raw rawProvider
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Type = raw.Type
	p.Scopes = raw.Scopes
	p.AllowedOrgs = raw.AllowedOrgs

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"tenantId", raw.TenantID, &p.TenantID},
		{"discoveryUrl", raw.DiscoveryURL, &p.DiscoveryURL},
		{"authorizationUrl", raw.AuthorizationURL, &p.AuthorizationURL},
		{"tokenUrl", raw.TokenURL, &p.TokenURL},
		{"userInfoUrl", raw.UserInfoURL, &p.UserInfoURL},
		{"clientId", raw.ClientID, &p.ClientID},
		{"redirectUri", raw.RedirectURI, &p.RedirectURI},
	}
	for _, f := range fields {
		value, err := resolveValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = value
	}

	secret, err := resolveValue(raw.ClientSecret)
	if err != nil {
		return fmt.Errorf("parsing clientSecret: %w", err)
	}
	p.ClientSecret = Secret(secret)

	return nil
}

// UnmarshalJSON parses durations and resolves key references
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		Provider       ProviderConfig  `json:"provider"`
		AllowedDomains []string        `json:"allowedDomains"`
		SessionTTL     string          `json:"sessionTtl"`
		CSRFTTL        string          `json:"csrfTtl"`
		SigningKey     json.RawMessage `json:"signingKey"`
		EncryptionKey  json.RawMessage `json:"encryptionKey"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Provider = raw.Provider
	a.AllowedDomains = raw.AllowedDomains

	var err error
	if a.SessionTTL, err = parseDuration(raw.SessionTTL, "sessionTtl"); err != nil {
		return err
	}
	if a.CSRFTTL, err = parseDuration(raw.CSRFTTL, "csrfTtl"); err != nil {
		return err
	}

	signingKey, err := resolveValue(raw.SigningKey)
	if err != nil {
		return fmt.Errorf("parsing signingKey: %w", err)
	}
	a.SigningKey = Secret(signingKey)

	encryptionKey, err := resolveValue(raw.EncryptionKey)
	if err != nil {
		return fmt.Errorf("parsing encryptionKey: %w", err)
	}
	a.EncryptionKey = Secret(encryptionKey)

	return nil
}

// UnmarshalJSON resolves the redis password reference
func (r *RedisConfig) UnmarshalJSON(data []byte) error {
	type rawRedis struct {
		Addr     json.RawMessage `json:"addr"`
		Password json.RawMessage `json:"password"`
		DB       int             `json:"db"`
		Prefix   string          `json:"prefix"`
	}

	var raw rawRedis
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	addr, err := resolveValue(raw.Addr)
	if err != nil {
		return fmt.Errorf("parsing redis addr: %w", err)
	}
	password, err := resolveValue(raw.Password)
	if err != nil {
		return fmt.Errorf("parsing redis password: %w", err)
	}

	r.Addr = addr
	r.Password = Secret(password)
	r.DB = raw.DB
	r.Prefix = raw.Prefix
	return nil
}

// UnmarshalJSON parses the cleanup interval
func (s *SessionsConfig) UnmarshalJSON(data []byte) error {
	type rawSessions struct {
		Storage         StorageKind      `json:"storage"`
		Redis           *RedisConfig     `json:"redis"`
		Firestore       *FirestoreConfig `json:"firestore"`
		CleanupInterval string           `json:"cleanupInterval"`
	}

	var raw rawSessions
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	interval, err := parseDuration(raw.CleanupInterval, "cleanupInterval")
	if err != nil {
		return err
	}

	s.Storage = raw.Storage
	s.Redis = raw.Redis
	s.Firestore = raw.Firestore
	s.CleanupInterval = interval
	return nil
}
