// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the worldeval API.

# Handler Types

Each handler is a struct with database and config dependencies:

  - ExperimentHandler: Experiment lifecycle (create, add tasks, activate, archive, sync)
  - TaskHandler: Task catalog and next-task assignment
  - SubmissionHandler: Draft and final evaluation submission
  - ParticipantHandler: Registration and progress
  - AnalyticsHandler: Win rates and per-task progress

Handlers are created via constructor functions that accept *sql.DB and Config;
the experiment and submission handlers also take a *prolific.Client:

	experimentHandler := handlers.NewExperimentHandler(db, cfg, platform)

# Experiment Lifecycle

Experiments progress through draft → ready → active → completed (with an
optional paused detour), and the status never moves backward:

	POST /experiments                  → CreateExperiment (returns admin_key)
	POST /experiments/{id}/comparisons → AddComparison
	POST /experiments/{id}/videos      → AddSingleVideo
	POST /experiments/{id}/activate    → Activate (stamps started_at)
	POST /experiments/{id}/archive     → Archive (soft delete)
	POST /experiments/{id}/sync        → Sync (reconciles against the linked study)

Admin operations require the X-Admin-Key header.

# Evaluation Flow

Participants are either registered ahead of time or derived lazily from a
session token (see ResolveParticipant). Each participant submits at most
one evaluation per task; drafts can be saved any number of times before
the final submission:

	GET  /next-task   → NextTask (comparison tasks first, stable order)
	POST /drafts      → SaveDraft (upsert; rejected once completed)
	GET  /drafts      → GetDraft
	POST /evaluations → SubmitEvaluation (exactly one completion wins)

A completed submission can never be overwritten; concurrent duplicate
completions resolve through the UNIQUE (task_id, participant_id) constraint.

# Anonymization

Comparison tasks store real model names but expose only A/B labels to
participants. Real names appear solely in admin reads and analytics.

# Analytics

Win-rate aggregation is implemented in performance.go:

	results := ComputeModelPerformance(evals)

Each verdict counts as one trial for both models (winner 1, loser 0,
Equal 0.5 each); the standard error uses the population variance.
*/
package handlers
