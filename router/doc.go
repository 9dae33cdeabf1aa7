// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the worldeval API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(db, cfg)

# Endpoints

Health:

	GET /health

Experiment management (admin, requires X-Admin-Key):

	POST /experiments                  - Create experiment
	POST /experiments/{id}/comparisons - Add comparison task
	POST /experiments/{id}/videos      - Add single-video task
	POST /experiments/{id}/activate    - Open for evaluation
	POST /experiments/{id}/archive     - Soft delete
	POST /experiments/{id}/sync        - Reconcile with study platform

Task catalog and assignment (public, model names anonymized):

	GET /experiments/{id}/tasks - List experiment tasks
	GET /tasks/{id}             - Get one task
	GET /next-task              - Next unevaluated task for a participant

Evaluation lifecycle (public):

	POST /drafts      - Save or update a draft evaluation
	GET  /drafts      - Fetch a participant's draft for a task
	POST /evaluations - Submit a final evaluation

Participant management:

	POST /participants      - Register a recruited participant
	GET  /participants/{id} - Participant status and progress

Analytics:

	GET /model-performance   - Per-model, per-dimension win rates
	GET /comparison-progress - Completed counts per comparison task

# Handler Initialization

The router creates handler instances with dependency injection:

	platform := prolific.NewClient(cfg.ProlificToken, cfg.ProlificBaseURL)
	experimentHandler := handlers.NewExperimentHandler(db, cfg, platform)
	taskHandler := handlers.NewTaskHandler(db, cfg)

All handlers receive the database connection and configuration; the
experiment and submission handlers additionally get the platform client.
*/
package router
