// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags loads a .env file if one exists (via godotenv) and returns a
Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# Config Fields

  - Port: Server listen port (default: 3319)
  - DatabaseURL: database connection string (required)
  - DatabaseType: "postgres" (default) or "sqlite"
  - AdminKeySalt: Secret for admin key HMAC (required)
  - CompletionCodeSalt: Secret for participant completion codes (required)
  - ProlificToken / ProlificBaseURL: external platform access (optional;
    platform sync endpoints report an error when unset)

# Environment Variables

Flags fall back to environment variables:

	PORT                 → -p
	DATABASE_URL         → -d
	DATABASE_TYPE        → -t
	ADMIN_KEY_SALT       → --admin-salt
	COMPLETION_CODE_SALT → --code-salt
	PROLIFIC_API_TOKEN   → --prolific-token
	PROLIFIC_BASE_URL    → --prolific-url

CLI flags take precedence over environment variables.
*/
package cliparse
