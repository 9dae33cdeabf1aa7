// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/worldeval/auth"
	"github.com/danielhkuo/worldeval/cliparse"
	"github.com/danielhkuo/worldeval/db"
	"github.com/danielhkuo/worldeval/middleware"
	"github.com/danielhkuo/worldeval/models"
)

type ParticipantHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewParticipantHandler(db *sql.DB, cfg cliparse.Config) *ParticipantHandler {
	return &ParticipantHandler{db: db, cfg: cfg}
}

// RegisterParticipant handles POST /participants
// Registers a recruited participant against an experiment. Without an
// explicit task list the participant is assigned the experiment's full
// current task set, frozen at registration time.
func (h *ParticipantHandler) RegisterParticipant(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterParticipantRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.ExternalID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "external_id is required")
		return
	}
	if req.ExperimentID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "experiment_id is required")
		return
	}

	var archived bool
	err := db.WithRetry(func() error {
		return h.db.QueryRow(`SELECT archived FROM experiment WHERE id = $1`, req.ExperimentID).Scan(&archived)
	})
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
		return
	}
	if err != nil {
		slog.Error("failed to query experiment", "error", err, "experiment_id", req.ExperimentID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if archived {
		middleware.ErrorResponse(w, http.StatusConflict, "Experiment is archived")
		return
	}

	taskIDs := req.TaskIDs
	if len(taskIDs) == 0 {
		taskIDs, err = experimentTaskIDs(h.db, req.ExperimentID)
		if err != nil {
			slog.Error("failed to query experiment tasks", "error", err, "experiment_id", req.ExperimentID)
			middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
			return
		}
	}
	assignedJSON, err := json.Marshal(taskIDs)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to encode task assignment")
		return
	}

	participantID := auth.NewID()
	completionCode := auth.GenerateCompletionCode(participantID, h.cfg.CompletionCodeSalt)

	_, err = h.db.Exec(`
		INSERT INTO participant (id, external_id, source, status, experiment_id,
		                         assigned_task_ids, completion_code, prolific_submission_id)
		VALUES ($1, $2, 'registered', 'active', $3, $4, $5, $6)
	`, participantID, req.ExternalID, req.ExperimentID, string(assignedJSON),
		completionCode, nullable(req.ProlificSubmissionID))
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Participant already registered")
		return
	}
	if err != nil {
		slog.Error("failed to register participant", "error", err, "external_id", req.ExternalID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to register participant")
		return
	}

	slog.Info("participant registered",
		"participant_id", participantID,
		"external_id", req.ExternalID,
		"experiment_id", req.ExperimentID,
		"assigned_tasks", len(taskIDs),
	)

	middleware.JSONResponse(w, http.StatusCreated, models.RegisterParticipantResponse{
		ParticipantID:  participantID,
		CompletionCode: completionCode,
		AssignedTasks:  len(taskIDs),
	})
}

// GetParticipant handles GET /participants/{id}
// Accepts either the internal id or the platform external id, and
// reports progress against the assigned task set.
func (h *ParticipantHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "participant id is required")
		return
	}

	var p models.Participant
	var assignedJSON []byte
	err := db.WithRetry(func() error {
		return h.db.QueryRow(`
			SELECT id, external_id, source, status, experiment_id,
			       assigned_task_ids, completion_code, completed_at, created_at
			FROM participant
			WHERE id = $1 OR external_id = $1
		`, id).Scan(&p.ID, &p.ExternalID, &p.Source, &p.Status, &p.ExperimentID,
			&assignedJSON, &p.CompletionCode, &p.CompletedAt, &p.CreatedAt)
	})
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Participant not found")
		return
	}
	if err != nil {
		slog.Error("failed to query participant", "error", err, "participant_id", id)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if err := json.Unmarshal(assignedJSON, &p.AssignedTaskIDs); err != nil {
		slog.Error("failed to decode assigned task ids", "error", err, "participant_id", p.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Corrupt task assignment")
		return
	}

	var completedCount int
	err = db.WithRetry(func() error {
		return h.db.QueryRow(`
			SELECT COUNT(*) FROM submission WHERE participant_id = $1 AND status = 'completed'
		`, p.ID).Scan(&completedCount)
	})
	if err != nil {
		slog.Error("failed to count completed evaluations", "error", err, "participant_id", p.ID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"participant":     p,
		"completed_tasks": completedCount,
		"assigned_tasks":  len(p.AssignedTaskIDs),
	})
}
