package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dgellow/authguard/internal/log"
)

const (
	defaultAddr                = ":8080"
	defaultName                = "authguard"
	defaultSessionTTL          = 24 * time.Hour
	defaultCSRFTTL             = 12 * time.Hour
	defaultCleanupInterval     = 5 * time.Minute
	defaultRedisPrefix         = "authguard:session:"
	defaultFirestoreCollection = "authguard_sessions"
)

// secretFields must be given as {"$env": "NAME"} so secrets stay out of the file
var secretFields = []string{
	"auth.provider.clientSecret",
	"auth.signingKey",
	"auth.encryptionKey",
	"sessions.redis.password",
}

// Load reads the config file, resolves env references, applies defaults and
// validates the result
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != Version {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	for _, path := range secretFields {
		value, found := lookup(rawConfig, path)
		if !found {
			continue
		}
		if verr := validateEnvVarReference(value, path); verr != nil {
			return Config{}, fmt.Errorf("config validation failed: %s", verr.Message)
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = defaultName
	}
	if cfg.Auth.Provider.Type == "" {
		cfg.Auth.Provider.Type = "oidc"
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = defaultSessionTTL
	}
	if cfg.Auth.CSRFTTL == 0 {
		cfg.Auth.CSRFTTL = defaultCSRFTTL
	}
	if cfg.Sessions.Storage == "" {
		cfg.Sessions.Storage = StorageMemory
	}
	if cfg.Sessions.CleanupInterval == 0 {
		cfg.Sessions.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Sessions.Redis != nil && cfg.Sessions.Redis.Prefix == "" {
		cfg.Sessions.Redis.Prefix = defaultRedisPrefix
	}
	if cfg.Sessions.Firestore != nil && cfg.Sessions.Firestore.Collection == "" {
		cfg.Sessions.Firestore.Collection = defaultFirestoreCollection
	}
}

// ValidateConfig checks a resolved config
func ValidateConfig(cfg *Config) error {
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if u, err := url.Parse(cfg.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.baseURL must be an absolute URL")
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if err := validateProvider(&cfg.Auth.Provider); err != nil {
		return fmt.Errorf("auth.provider: %w", err)
	}

	if len(cfg.Auth.SigningKey) < 32 {
		return fmt.Errorf("auth.signingKey must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(cfg.Auth.SigningKey))
	}
	if len(cfg.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("auth.encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(cfg.Auth.EncryptionKey))
	}
	if cfg.Auth.SessionTTL < 0 {
		return fmt.Errorf("auth.sessionTtl cannot be negative")
	}
	if cfg.Auth.CSRFTTL < 0 {
		return fmt.Errorf("auth.csrfTtl cannot be negative")
	}
	if len(cfg.Auth.AllowedDomains) == 0 {
		log.LogWarn("auth.allowedDomains is empty: any account at the identity provider can sign in")
	}

	switch cfg.Sessions.Storage {
	case StorageMemory:
	case StorageRedis:
		if cfg.Sessions.Redis == nil || cfg.Sessions.Redis.Addr == "" {
			return fmt.Errorf("sessions.redis.addr is required when using redis storage")
		}
	case StorageFirestore:
		if cfg.Sessions.Firestore == nil || cfg.Sessions.Firestore.Project == "" {
			return fmt.Errorf("sessions.firestore.project is required when using firestore storage")
		}
	default:
		return fmt.Errorf("sessions.storage must be memory, redis or firestore, got %q", cfg.Sessions.Storage)
	}
	if cfg.Sessions.CleanupInterval < 0 {
		return fmt.Errorf("sessions.cleanupInterval cannot be negative")
	}

	return nil
}

func validateProvider(p *ProviderConfig) error {
	if p.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	if p.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}
	switch p.Type {
	case "google", "github":
	case "azure":
		if p.TenantID == "" {
			return fmt.Errorf("tenantId is required for azure")
		}
	case "oidc":
		if p.DiscoveryURL == "" && (p.AuthorizationURL == "" || p.TokenURL == "" || p.UserInfoURL == "") {
			return fmt.Errorf("either discoveryUrl or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
		}
	default:
		return fmt.Errorf("type must be one of oidc, google, azure, github, got %q", p.Type)
	}
	return nil
}

// lookup walks a dotted path through nested JSON objects
func lookup(raw map[string]any, path string) (any, bool) {
	var current any = raw
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
