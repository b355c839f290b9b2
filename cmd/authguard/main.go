package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/authguard/internal"
	"github.com/dgellow/authguard/internal/config"
	"github.com/dgellow/authguard/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": config.Version,
		"server": map[string]any{
			"baseURL":        "https://auth.yourcompany.com",
			"addr":           ":8080",
			"name":           "authguard",
			"allowedOrigins": []string{"https://app.yourcompany.com"},
		},
		"auth": map[string]any{
			"provider": map[string]any{
				"type":         "oidc",
				"discoveryUrl": "https://idp.yourcompany.com/.well-known/openid-configuration",
				"clientId":     "authguard",
				"clientSecret": map[string]string{"$env": "OIDC_CLIENT_SECRET"},
				"redirectUri":  "https://auth.yourcompany.com/oauth/callback",
			},
			"allowedDomains": []string{"yourcompany.com"},
			"sessionTtl":     "24h",
			"csrfTtl":        "12h",
			"signingKey":     map[string]string{"$env": "SIGNING_KEY"},
			"encryptionKey":  map[string]string{"$env": "ENCRYPTION_KEY"},
		},
		"sessions": map[string]any{
			"storage":         "memory",
			"cleanupInterval": "5m",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			printIssue(err)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			printIssue(warn)
		}
	}

	fmt.Println()
	switch {
	case len(result.Errors) > 0:
		fmt.Println("Result: FAIL")
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	case len(result.Warnings) > 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: PASS")
	}
	return nil
}

func printIssue(issue config.ValidationError) {
	if issue.Path != "" {
		fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
	} else {
		fmt.Printf("  - %s\n", issue.Message)
	}
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting authguard", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	ctx := context.Background()
	app, err := internal.New(ctx, cfg)
	if err != nil {
		log.LogError("Failed to create authguard: %v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.LogError("Failed to run server: %v", err)
		os.Exit(1)
	}
}
