// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the worldeval API server.

worldeval is a human-evaluation backend for generated video: participants
compare anonymized A/B video pairs or rate single videos along scored
dimensions, and the server aggregates per-model win rates with standard
errors.

# Starting the Server

The server requires environment variables or CLI flags for configuration:

	DATABASE_URL=postgres://... ADMIN_KEY_SALT=... COMPLETION_CODE_SALT=... go run main.go

Or with flags:

	go run main.go -p 3319 -d "postgres://..." -admin-salt ... -code-salt ...

# Configuration

Required settings:

  - DATABASE_URL (-d): Database connection string
  - ADMIN_KEY_SALT (-admin-salt): Secret for admin key HMAC
  - COMPLETION_CODE_SALT (-code-salt): Secret for completion code generation

Optional settings:

  - PORT (-p): Server port (default: 3319)
  - DATABASE_TYPE (-t): "postgres" (default) or "sqlite"
  - PROLIFIC_API_TOKEN (-prolific-token): Enables study platform integration
  - PROLIFIC_BASE_URL (-prolific-url): Override the platform API endpoint

# Architecture

The server uses a handler-based architecture with dependency injection:

  - handlers: HTTP request handlers (experiments, tasks, submissions, participants, analytics)
  - router: Route definitions using Go 1.22+ routing
  - middleware: CORS, logging, JSON helpers
  - models: Request/response types
  - auth: ID derivation, admin keys, completion codes
  - prolific: Study platform client and status reconciliation
  - db: Schema creation and transient-error retry
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
