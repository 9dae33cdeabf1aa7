// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/worldeval/auth"
	"github.com/danielhkuo/worldeval/cliparse"
	"github.com/danielhkuo/worldeval/db"
	"github.com/danielhkuo/worldeval/middleware"
	"github.com/danielhkuo/worldeval/models"
	"github.com/danielhkuo/worldeval/prolific"
)

type SubmissionHandler struct {
	db       *sql.DB
	cfg      cliparse.Config
	platform *prolific.Client
}

func NewSubmissionHandler(db *sql.DB, cfg cliparse.Config, platform *prolific.Client) *SubmissionHandler {
	return &SubmissionHandler{db: db, cfg: cfg, platform: platform}
}

// SaveDraft handles POST /drafts
// Creates or updates the participant's draft for a task. A draft never
// overwrites a completed submission.
func (h *SubmissionHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var req models.SaveDraftRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.TaskID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "task_id is required")
		return
	}
	if req.ParticipantID == "" && req.SessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "participant_id or session_id is required")
		return
	}

	task, err := lookupTask(h.db, req.TaskID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		slog.Error("failed to query task", "error", err, "task_id", req.TaskID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if err := validateScores(task.TaskType, req.DimensionScores); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	participantID, err := ResolveParticipant(h.db, h.cfg, req.ParticipantID, req.SessionID, task.ExperimentID)
	if err == ErrIdentityUnresolved {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to resolve participant", "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	scoresJSON, metadataJSON, err := encodePayload(req.DimensionScores, req.ClientMetadata)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	// Atomic insert-or-update keyed by (task_id, participant_id). The WHERE
	// clause keeps completed rows immutable: the conflict arm updates
	// nothing, QueryRow sees no row, and the caller gets a conflict.
	now := time.Now()
	var evaluationID string
	var lastSavedAt time.Time
	err = h.db.QueryRow(`
		INSERT INTO submission (id, task_id, task_type, experiment_id, participant_id, status,
		                        dimension_scores, client_metadata, last_saved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'draft', $6, $7, $8, $8)
		ON CONFLICT (task_id, participant_id) DO UPDATE
		SET dimension_scores = EXCLUDED.dimension_scores,
		    client_metadata = EXCLUDED.client_metadata,
		    last_saved_at = EXCLUDED.last_saved_at
		WHERE submission.status <> 'completed'
		RETURNING id, last_saved_at
	`, auth.NewID(), task.ID, task.TaskType, task.ExperimentID, participantID,
		scoresJSON, metadataJSON, now).Scan(&evaluationID, &lastSavedAt)

	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusConflict, "Evaluation already completed")
		return
	}
	if err != nil {
		slog.Error("failed to upsert draft", "error", err, "task_id", task.ID, "participant_id", participantID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to save draft")
		return
	}

	slog.Info("draft saved", "evaluation_id", evaluationID, "task_id", task.ID, "participant_id", participantID)

	middleware.JSONResponse(w, http.StatusCreated, models.SaveDraftResponse{
		EvaluationID: evaluationID,
		LastSavedAt:  lastSavedAt,
	})
}

// GetDraft handles GET /drafts
// Returns {"draft": null} when the participant has no draft for the task.
func (h *SubmissionHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	participantID := r.URL.Query().Get("participant_id")
	sessionID := r.URL.Query().Get("session_id")

	if taskID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "task_id is required")
		return
	}
	if participantID == "" && sessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "participant_id or session_id is required")
		return
	}
	if participantID == "" {
		participantID = auth.AnonymousID(sessionID)
	}

	var sub models.Submission
	var scoresJSON, metadataJSON []byte
	err := db.WithRetry(func() error {
		return h.db.QueryRow(`
			SELECT id, task_id, task_type, experiment_id, participant_id, status,
			       dimension_scores, client_metadata, last_saved_at, created_at
			FROM submission
			WHERE task_id = $1 AND participant_id = $2 AND status = 'draft'
		`, taskID, participantID).Scan(
			&sub.ID, &sub.TaskID, &sub.TaskType, &sub.ExperimentID, &sub.ParticipantID,
			&sub.Status, &scoresJSON, &metadataJSON, &sub.LastSavedAt, &sub.CreatedAt,
		)
	})

	if err == sql.ErrNoRows {
		middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{"draft": nil})
		return
	}
	if err != nil {
		slog.Error("failed to query draft", "error", err, "task_id", taskID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if len(scoresJSON) > 0 {
		if err := json.Unmarshal(scoresJSON, &sub.DimensionScores); err != nil {
			slog.Error("failed to decode stored scores", "error", err, "evaluation_id", sub.ID)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sub.ClientMetadata); err != nil {
			slog.Error("failed to decode stored metadata", "error", err, "evaluation_id", sub.ID)
		}
	}

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{"draft": sub})
}

// SubmitEvaluation handles POST /evaluations
// Completes the submission for one (task, participant) pair. A second
// completion attempt is rejected with 409, never silently accepted.
func (h *SubmissionHandler) SubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitEvaluationRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.TaskID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "task_id is required")
		return
	}
	if req.ParticipantID == "" && req.SessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "participant_id or session_id is required")
		return
	}
	if len(req.DimensionScores) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "dimension_scores cannot be empty")
		return
	}
	if req.CompletionTimeSeconds < 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "completion_time_seconds cannot be negative")
		return
	}

	task, err := lookupTask(h.db, req.TaskID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		slog.Error("failed to query task", "error", err, "task_id", req.TaskID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if err := validateScores(task.TaskType, req.DimensionScores); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	participantID, err := ResolveParticipant(h.db, h.cfg, req.ParticipantID, req.SessionID, task.ExperimentID)
	if err == ErrIdentityUnresolved {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to resolve participant", "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	scoresJSON, metadataJSON, err := encodePayload(req.DimensionScores, req.ClientMetadata)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var chosenModel *string
	if task.TaskType == models.TaskComparison {
		chosen := ChooseModel(req.DimensionScores, task.ModelA, task.ModelB)
		chosenModel = &chosen
	}

	// Same atomic upsert as drafts, but the conflict arm also refuses to
	// touch rows that are already completed: exactly one completion wins.
	now := time.Now()
	var evaluationID string
	err = h.db.QueryRow(`
		INSERT INTO submission (id, task_id, task_type, experiment_id, participant_id, status,
		                        dimension_scores, chosen_model, completion_time_seconds,
		                        client_metadata, last_saved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', $6, $7, $8, $9, $10, $10)
		ON CONFLICT (task_id, participant_id) DO UPDATE
		SET status = 'completed',
		    dimension_scores = EXCLUDED.dimension_scores,
		    chosen_model = EXCLUDED.chosen_model,
		    completion_time_seconds = EXCLUDED.completion_time_seconds,
		    client_metadata = EXCLUDED.client_metadata,
		    last_saved_at = EXCLUDED.last_saved_at
		WHERE submission.status <> 'completed'
		RETURNING id
	`, auth.NewID(), task.ID, task.TaskType, task.ExperimentID, participantID,
		scoresJSON, chosenModel, req.CompletionTimeSeconds, metadataJSON, now).Scan(&evaluationID)

	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusConflict, "Evaluation already completed")
		return
	}
	if err != nil {
		slog.Error("failed to complete evaluation", "error", err, "task_id", task.ID, "participant_id", participantID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit evaluation")
		return
	}

	slog.Info("evaluation completed",
		"evaluation_id", evaluationID,
		"task_id", task.ID,
		"participant_id", participantID,
	)

	// The completion is durable; everything below is follow-up that must
	// not fail the request.
	resp := models.SubmitEvaluationResponse{EvaluationID: evaluationID}

	done, completionCode, err := h.recomputeParticipantCompletion(participantID)
	if err != nil {
		slog.Error("failed to recompute participant completion", "error", err, "participant_id", participantID)
	} else if done {
		resp.ParticipantCompleted = true
		resp.CompletionCode = completionCode

		if warning := h.approveOnPlatform(participantID); warning != "" {
			resp.Warning = warning
		}
	}

	middleware.JSONResponse(w, http.StatusCreated, resp)
}

// recomputeParticipantCompletion checks whether every assigned task has a
// completed submission and, if so, transitions the participant to
// completed. Idempotent: an already-completed participant is a no-op.
func (h *SubmissionHandler) recomputeParticipantCompletion(participantID string) (bool, string, error) {
	var status, completionCode string
	var assignedJSON []byte
	err := db.WithRetry(func() error {
		return h.db.QueryRow(`
			SELECT status, completion_code, assigned_task_ids FROM participant WHERE id = $1
		`, participantID).Scan(&status, &completionCode, &assignedJSON)
	})
	if err == sql.ErrNoRows {
		// Registered ids can complete tasks before any local row exists
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	if status == models.ParticipantCompleted {
		return true, completionCode, nil
	}

	var assigned []string
	if err := json.Unmarshal(assignedJSON, &assigned); err != nil {
		return false, "", fmt.Errorf("failed to decode assigned task ids: %w", err)
	}
	if len(assigned) == 0 {
		// No assignment to satisfy; nothing to transition
		return false, "", nil
	}

	completed := make(map[string]bool)
	err = db.WithRetry(func() error {
		rows, err := h.db.Query(`
			SELECT task_id FROM submission WHERE participant_id = $1 AND status = 'completed'
		`, participantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(completed)
		for rows.Next() {
			var taskID string
			if err := rows.Scan(&taskID); err != nil {
				return err
			}
			completed[taskID] = true
		}
		return rows.Err()
	})
	if err != nil {
		return false, "", err
	}

	for _, taskID := range assigned {
		if !completed[taskID] {
			return false, "", nil
		}
	}

	// Guarded update keeps the transition idempotent under concurrency
	_, err = h.db.Exec(`
		UPDATE participant SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status <> 'completed'
	`, participantID, time.Now())
	if err != nil {
		return false, "", err
	}

	slog.Info("participant completed all assigned tasks", "participant_id", participantID)

	return true, completionCode, nil
}

// approveOnPlatform approves the participant's Prolific submission after
// they finish their task set. Best effort: local state is the source of
// truth, so a platform failure only produces a warning.
func (h *SubmissionHandler) approveOnPlatform(participantID string) string {
	if !h.platform.Configured() {
		return ""
	}

	var source string
	var submissionID sql.NullString
	err := h.db.QueryRow(`
		SELECT source, prolific_submission_id FROM participant WHERE id = $1
	`, participantID).Scan(&source, &submissionID)
	if err != nil {
		slog.Warn("failed to load participant for platform approval", "error", err, "participant_id", participantID)
		return ""
	}
	if source != models.SourceRegistered || !submissionID.Valid {
		return ""
	}

	if err := h.platform.ApproveSubmission(submissionID.String); err != nil {
		slog.Warn("platform approval failed", "error", err, "participant_id", participantID)
		return "evaluation recorded; platform approval failed and will be retried by study sync"
	}

	slog.Info("platform submission approved", "participant_id", participantID, "submission_id", submissionID.String)
	return ""
}

// validateScores checks dimension verdicts against the task type:
// comparison tasks take the labels "A", "B", or "Equal"; single-video
// tasks take numeric ratings.
func validateScores(taskType string, scores map[string]json.RawMessage) error {
	for dimension, raw := range scores {
		if dimension == "" {
			return fmt.Errorf("dimension name cannot be empty")
		}
		switch taskType {
		case models.TaskComparison:
			var verdict string
			if err := json.Unmarshal(raw, &verdict); err != nil {
				return fmt.Errorf("verdict for %s must be a string", dimension)
			}
			if verdict != models.VerdictA && verdict != models.VerdictB && verdict != models.VerdictEqual {
				return fmt.Errorf("verdict for %s must be A, B, or Equal", dimension)
			}
		case models.TaskSingleVideo:
			var rating float64
			if err := json.Unmarshal(raw, &rating); err != nil {
				return fmt.Errorf("rating for %s must be a number", dimension)
			}
		}
	}
	return nil
}

// encodePayload serializes the scores and metadata for storage.
func encodePayload(scores map[string]json.RawMessage, metadata map[string]any) (string, *string, error) {
	if scores == nil {
		scores = map[string]json.RawMessage{}
	}
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode dimension scores: %w", err)
	}

	var metadataJSON *string
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode client metadata: %w", err)
		}
		s := string(encoded)
		metadataJSON = &s
	}

	return string(scoresJSON), metadataJSON, nil
}
