package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the only config version this build accepts
const Version = "v1"

// Secret is a string that redacts itself when printed or marshaled
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// StorageKind selects the session store backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageRedis     StorageKind = "redis"
	StorageFirestore StorageKind = "firestore"
)

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr           string   `json:"addr"`
	BaseURL        string   `json:"baseURL"`
	Name           string   `json:"name"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// ProviderConfig configures the upstream identity provider. For "oidc"
// either DiscoveryURL or all three endpoint URLs must be set; "azure" needs
// TenantID. AllowedOrgs only applies to "github".
type ProviderConfig struct {
	Type             string   `json:"type"`
	TenantID         string   `json:"tenantId,omitempty"`
	DiscoveryURL     string   `json:"discoveryUrl,omitempty"`
	AuthorizationURL string   `json:"authorizationUrl,omitempty"`
	TokenURL         string   `json:"tokenUrl,omitempty"`
	UserInfoURL      string   `json:"userInfoUrl,omitempty"`
	ClientID         string   `json:"clientId"`
	ClientSecret     Secret   `json:"clientSecret"`
	RedirectURI      string   `json:"redirectUri"`
	Scopes           []string `json:"scopes,omitempty"`
	AllowedOrgs      []string `json:"allowedOrgs,omitempty"`
}

// AuthConfig configures sign-in, sessions and CSRF
type AuthConfig struct {
	Provider       ProviderConfig `json:"provider"`
	AllowedDomains []string       `json:"allowedDomains,omitempty"`
	SessionTTL     time.Duration  `json:"sessionTtl"`
	CSRFTTL        time.Duration  `json:"csrfTtl"`
	SigningKey     Secret         `json:"signingKey"`
	EncryptionKey  Secret         `json:"encryptionKey"`
}

// RedisConfig configures the redis session store
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password Secret `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// FirestoreConfig configures the firestore session store
type FirestoreConfig struct {
	Project    string `json:"project"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// SessionsConfig selects and configures session persistence
type SessionsConfig struct {
	Storage         StorageKind      `json:"storage"`
	Redis           *RedisConfig     `json:"redis,omitempty"`
	Firestore       *FirestoreConfig `json:"firestore,omitempty"`
	CleanupInterval time.Duration    `json:"cleanupInterval"`
}

// Config is the fully resolved configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Sessions SessionsConfig `json:"sessions"`
}

// resolveValue accepts either a plain JSON string or an {"$env": "NAME"}
// reference and returns the resolved string.
func resolveValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("value must be a string or {\"$env\": \"NAME\"}")
	}
	name, ok := ref["$env"]
	if !ok || len(ref) != 1 {
		return "", fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", name)
	}
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
