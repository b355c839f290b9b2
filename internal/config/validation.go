package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError is one issue found in the config file
type ValidationError struct {
	Path    string
	Message string
}

// IsValid reports whether no errors were found
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile checks the structure of a config file without resolving
// environment references, so it can run where the secrets are not available
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes is ValidateFile on in-memory content
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	switch version, ok := raw["version"].(string); {
	case !ok:
		result.addError("version", "version field is required. Hint: Add \"version\": %q", Version)
	case version != Version:
		result.addError("version", "unsupported version '%s' - use %q", version, Version)
	}

	for _, path := range secretFields {
		if value, found := lookup(raw, path); found {
			if verr := validateEnvVarReference(value, path); verr != nil {
				result.Errors = append(result.Errors, *verr)
			}
		}
	}

	validateServerStructure(raw, result)
	validateAuthStructure(raw, result)
	validateSessionsStructure(raw, result)

	return result
}

func validateServerStructure(raw map[string]any, result *ValidationResult) {
	server, ok := raw["server"].(map[string]any)
	if !ok {
		result.addError("server", "server section is required")
		return
	}
	if _, ok := server["baseURL"]; !ok {
		result.addError("server.baseURL", "baseURL is required")
	}
	if _, ok := server["addr"]; !ok {
		result.addWarning("server.addr", "addr not set, defaulting to %s", defaultAddr)
	}
}

func validateAuthStructure(raw map[string]any, result *ValidationResult) {
	auth, ok := raw["auth"].(map[string]any)
	if !ok {
		result.addError("auth", "auth section is required")
		return
	}

	provider, ok := auth["provider"].(map[string]any)
	if !ok {
		result.addError("auth.provider", "provider section is required")
	} else {
		for _, field := range []string{"clientId", "clientSecret", "redirectUri"} {
			if _, ok := provider[field]; !ok {
				result.addError("auth.provider."+field, "%s is required", field)
			}
		}
		providerType, _ := provider["type"].(string)
		switch providerType {
		case "google", "github":
		case "azure":
			if _, ok := provider["tenantId"]; !ok {
				result.addError("auth.provider.tenantId", "tenantId is required for azure")
			}
		case "", "oidc":
			_, hasDiscovery := provider["discoveryUrl"]
			_, hasAuthURL := provider["authorizationUrl"]
			_, hasTokenURL := provider["tokenUrl"]
			_, hasUserInfoURL := provider["userInfoUrl"]
			if !hasDiscovery && !(hasAuthURL && hasTokenURL && hasUserInfoURL) {
				result.addError("auth.provider", "either discoveryUrl or all of authorizationUrl, tokenUrl and userInfoUrl must be set")
			}
		default:
			result.addError("auth.provider.type", "type must be one of oidc, google, azure, github, got %q", providerType)
		}
	}

	for _, field := range []string{"signingKey", "encryptionKey"} {
		if _, ok := auth[field]; !ok {
			result.addError("auth."+field, "%s is required", field)
		}
	}

	for _, field := range []string{"sessionTtl", "csrfTtl"} {
		validateDurationField(auth, field, "auth."+field, result)
	}

	if domains, ok := auth["allowedDomains"].([]any); !ok || len(domains) == 0 {
		result.addWarning("auth.allowedDomains", "no allowedDomains: any account at the identity provider can sign in")
	}
}

func validateSessionsStructure(raw map[string]any, result *ValidationResult) {
	sessions, ok := raw["sessions"].(map[string]any)
	if !ok {
		return
	}

	validateDurationField(sessions, "cleanupInterval", "sessions.cleanupInterval", result)

	storage, _ := sessions["storage"].(string)
	switch StorageKind(storage) {
	case "", StorageMemory:
		result.addWarning("sessions.storage", "memory storage loses all sessions on restart")
	case StorageRedis:
		redis, ok := sessions["redis"].(map[string]any)
		if !ok {
			result.addError("sessions.redis", "redis section is required when storage is redis")
		} else if _, ok := redis["addr"]; !ok {
			result.addError("sessions.redis.addr", "addr is required")
		}
	case StorageFirestore:
		firestore, ok := sessions["firestore"].(map[string]any)
		if !ok {
			result.addError("sessions.firestore", "firestore section is required when storage is firestore")
		} else if _, ok := firestore["project"]; !ok {
			result.addError("sessions.firestore.project", "project is required")
		}
	default:
		result.addError("sessions.storage", "storage must be memory, redis or firestore, got %q", storage)
	}
}

func validateDurationField(section map[string]any, key, path string, result *ValidationResult) {
	value, ok := section[key]
	if !ok {
		return
	}
	s, ok := value.(string)
	if !ok {
		result.addError(path, "must be a duration string such as \"24h\"")
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration %q: %v", s, err)
		return
	}
	if d < 0 {
		result.addError(path, "cannot be negative")
	}
}

// validateEnvVarReference requires value to be an {"$env": "NAME"} object
func validateEnvVarReference(value any, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text", path),
		}
	case map[string]any:
		if _, ok := v["$env"]; !ok {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", path),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", path, value),
		}
	}
}
