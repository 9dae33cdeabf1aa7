// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               int
	DatabaseURL        string
	DatabaseType       string
	AdminKeySalt       string
	CompletionCodeSalt string
	ProlificToken      string
	ProlificBaseURL    string
}

// ParseFlags validates flags and sets port number
func ParseFlags(args []string) (Config, error) {
	var cfg Config

	// Best-effort .env load; a missing file is fine
	_ = godotenv.Load()

	fs := flag.NewFlagSet("worldeval", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.AdminKeySalt, "admin-salt", "", "Admin key salt (prefer env)")
	fs.StringVar(&cfg.CompletionCodeSalt, "code-salt", "", "Completion code salt (prefer env)")

	// Prolific integration (optional; platform sync is skipped when unset)
	fs.StringVar(&cfg.ProlificToken, "prolific-token", "", "Prolific API token (prefer env)")
	fs.StringVar(&cfg.ProlificBaseURL, "prolific-url", "", "Prolific API base URL")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 3319 // default
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = "postgres"
		}
	}
	if cfg.DatabaseType != "postgres" && cfg.DatabaseType != "sqlite" {
		return Config{}, errors.New("database type must be postgres or sqlite")
	}

	// Secrets - MUST be provided
	if cfg.AdminKeySalt == "" {
		cfg.AdminKeySalt = os.Getenv("ADMIN_KEY_SALT")
	}
	if cfg.AdminKeySalt == "" {
		return Config{}, errors.New("ADMIN_KEY_SALT required")
	}

	if cfg.CompletionCodeSalt == "" {
		cfg.CompletionCodeSalt = os.Getenv("COMPLETION_CODE_SALT")
	}
	if cfg.CompletionCodeSalt == "" {
		return Config{}, errors.New("COMPLETION_CODE_SALT required")
	}

	// Prolific is optional
	if cfg.ProlificToken == "" {
		cfg.ProlificToken = os.Getenv("PROLIFIC_API_TOKEN")
	}
	if cfg.ProlificBaseURL == "" {
		cfg.ProlificBaseURL = os.Getenv("PROLIFIC_BASE_URL")
	}

	return cfg, nil
}
