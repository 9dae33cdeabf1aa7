// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/worldeval/auth"
	"github.com/danielhkuo/worldeval/cliparse"
	"github.com/danielhkuo/worldeval/db"
	"github.com/danielhkuo/worldeval/models"
)

// ErrIdentityUnresolved means the request carried neither a resolvable
// participant id nor a session token.
var ErrIdentityUnresolved = errors.New("participant id does not resolve and no session token provided")

// ResolveParticipant maps request credentials to a canonical participant id.
//
// A supplied participant id wins if it resolves to an existing row (by
// primary id or by external recruiting-platform id). Otherwise the id is
// derived from the session token as "anon-<token>", creating the backing
// participant row on first use. Creation snapshots the experiment's full
// current task set as the participant's assignment; tasks added to the
// experiment later are never retroactively assigned.
func ResolveParticipant(conn *sql.DB, cfg cliparse.Config, participantID, sessionToken, experimentID string) (string, error) {
	if participantID != "" {
		var id string
		err := db.WithRetry(func() error {
			return conn.QueryRow(`
				SELECT id FROM participant WHERE id = $1 OR external_id = $1
			`, participantID).Scan(&id)
		})
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("failed to look up participant: %w", err)
		}
		// Unknown id: fall through to session-token derivation if possible
	}

	if sessionToken == "" {
		return "", ErrIdentityUnresolved
	}

	anonID := auth.AnonymousID(sessionToken)

	var existing string
	err := db.WithRetry(func() error {
		return conn.QueryRow(`
			SELECT id FROM participant WHERE id = $1
		`, anonID).Scan(&existing)
	})
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up anonymous participant: %w", err)
	}

	if err := createAnonymousParticipant(conn, cfg, anonID, experimentID); err != nil {
		return "", err
	}

	return anonID, nil
}

// createAnonymousParticipant inserts the participant row backing a derived
// anonymous id. ON CONFLICT DO NOTHING makes the create race-safe: two
// concurrent first requests for the same session converge on one row.
func createAnonymousParticipant(conn *sql.DB, cfg cliparse.Config, anonID, experimentID string) error {
	taskIDs, err := experimentTaskIDs(conn, experimentID)
	if err != nil {
		return err
	}

	assignedJSON, err := json.Marshal(taskIDs)
	if err != nil {
		return fmt.Errorf("failed to encode assigned task ids: %w", err)
	}

	completionCode := auth.GenerateCompletionCode(anonID, cfg.CompletionCodeSalt)

	_, err = conn.Exec(`
		INSERT INTO participant (id, source, status, experiment_id, assigned_task_ids, completion_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, anonID, models.SourceAnonymous, models.ParticipantActive, nullable(experimentID), string(assignedJSON), completionCode, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create anonymous participant: %w", err)
	}

	slog.Info("anonymous participant created",
		"participant_id", anonID,
		"experiment_id", experimentID,
		"assigned_tasks", len(taskIDs),
	)

	return nil
}

// experimentTaskIDs returns the experiment's full current task set in
// creation order, comparison tasks first. An empty experiment id yields
// an empty assignment.
func experimentTaskIDs(conn *sql.DB, experimentID string) ([]string, error) {
	ids := []string{}
	if experimentID == "" {
		return ids, nil
	}

	collect := func(query string) error {
		rows, err := conn.Query(query, experimentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	}

	err := db.WithRetry(func() error {
		ids = ids[:0]
		if err := collect(`
			SELECT id FROM comparison_task WHERE experiment_id = $1 ORDER BY created_at, id
		`); err != nil {
			return err
		}
		return collect(`
			SELECT id FROM single_video_task WHERE experiment_id = $1 ORDER BY created_at, id
		`)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot experiment task set: %w", err)
	}

	return ids, nil
}

// nullable converts an empty string to a SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
