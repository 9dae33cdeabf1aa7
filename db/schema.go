// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS. The DDL sticks to
// syntax both Postgres and SQLite accept.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Experiments
CREATE TABLE IF NOT EXISTS experiment (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    group_label TEXT,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'ready', 'active', 'paused', 'completed')),
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    config JSONB NOT NULL DEFAULT '{}',
    prolific_study_id TEXT,
    started_at TIMESTAMP,
    archived_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_experiment_status ON experiment(status);

-- Comparison tasks (two videos, anonymized A/B labels)
CREATE TABLE IF NOT EXISTS comparison_task (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL REFERENCES experiment(id) ON DELETE CASCADE,
    scenario_id TEXT NOT NULL,
    model_a TEXT NOT NULL,
    model_b TEXT NOT NULL,
    video_a_url TEXT NOT NULL,
    video_b_url TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_comparison_task_experiment ON comparison_task(experiment_id);
CREATE INDEX IF NOT EXISTS idx_comparison_task_order ON comparison_task(created_at, id);

-- Single-video rating tasks
CREATE TABLE IF NOT EXISTS single_video_task (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL REFERENCES experiment(id) ON DELETE CASCADE,
    scenario_id TEXT NOT NULL,
    model_name TEXT NOT NULL,
    video_url TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_single_video_task_experiment ON single_video_task(experiment_id);
CREATE INDEX IF NOT EXISTS idx_single_video_task_order ON single_video_task(created_at, id);

-- Participants. Anonymous participants use the derived 'anon-<token>' id
-- as primary key; registered participants are looked up by external_id.
CREATE TABLE IF NOT EXISTS participant (
    id TEXT PRIMARY KEY,
    external_id TEXT UNIQUE,
    source TEXT NOT NULL CHECK (source IN ('registered', 'anonymous')),
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'screening_failed', 'returned')),
    experiment_id TEXT REFERENCES experiment(id) ON DELETE CASCADE,
    assigned_task_ids JSONB NOT NULL DEFAULT '[]',
    completion_code TEXT NOT NULL,
    prolific_submission_id TEXT,
    completed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_participant_external_id ON participant(external_id);
CREATE INDEX IF NOT EXISTS idx_participant_experiment ON participant(experiment_id);

-- Submissions. The (task_id, participant_id) pair is the natural key;
-- the UNIQUE constraint backs the atomic upsert in the submission handler.
CREATE TABLE IF NOT EXISTS submission (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    task_type TEXT NOT NULL CHECK (task_type IN ('comparison', 'single_video')),
    experiment_id TEXT NOT NULL REFERENCES experiment(id) ON DELETE CASCADE,
    participant_id TEXT NOT NULL REFERENCES participant(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'completed')),
    dimension_scores JSONB NOT NULL DEFAULT '{}',
    chosen_model TEXT,
    completion_time_seconds REAL,
    client_metadata JSONB,
    last_saved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (task_id, participant_id)
);

CREATE INDEX IF NOT EXISTS idx_submission_participant ON submission(participant_id, status);
CREATE INDEX IF NOT EXISTS idx_submission_task ON submission(task_id, status);
CREATE INDEX IF NOT EXISTS idx_submission_experiment ON submission(experiment_id);
`
