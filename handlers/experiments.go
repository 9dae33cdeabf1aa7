// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
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

type ExperimentHandler struct {
	db       *sql.DB
	cfg      cliparse.Config
	platform *prolific.Client
}

func NewExperimentHandler(db *sql.DB, cfg cliparse.Config, platform *prolific.Client) *ExperimentHandler {
	return &ExperimentHandler{db: db, cfg: cfg, platform: platform}
}

// CreateExperiment handles POST /experiments
func (h *ExperimentHandler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateExperimentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.EvaluationsPerTask < 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "evaluations_per_task cannot be negative")
		return
	}

	configJSON, err := json.Marshal(models.Config{EvaluationsPerTask: req.EvaluationsPerTask})
	if err != nil {
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to encode config")
		return
	}

	experimentID := auth.NewID()
	_, err = h.db.Exec(`
		INSERT INTO experiment (id, name, description, group_label, status, config, prolific_study_id)
		VALUES ($1, $2, $3, $4, 'draft', $5, $6)
	`, experimentID, req.Name, req.Description, req.Group, string(configJSON), nullable(req.ProlificStudyID))
	if err != nil {
		slog.Error("failed to create experiment", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create experiment")
		return
	}

	slog.Info("experiment created", "experiment_id", experimentID, "name", req.Name)

	middleware.JSONResponse(w, http.StatusCreated, models.CreateExperimentResponse{
		ExperimentID: experimentID,
		AdminKey:     auth.GenerateAdminKey(experimentID, h.cfg.AdminKeySalt),
	})
}

// AddComparison handles POST /experiments/{id}/comparisons
// Tasks can be added at any point in the experiment's life, including
// while it is live. Archived experiments are frozen.
func (h *ExperimentHandler) AddComparison(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	if !h.authorize(w, r, experimentID) {
		return
	}

	var req models.AddComparisonRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ScenarioID == "" || req.ModelA == "" || req.ModelB == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "scenario_id, model_a, and model_b are required")
		return
	}
	if req.VideoAURL == "" || req.VideoBURL == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "video_a_url and video_b_url are required")
		return
	}

	taskID := auth.NewID()
	_, err := h.db.Exec(`
		INSERT INTO comparison_task (id, experiment_id, scenario_id, model_a, model_b, video_a_url, video_b_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, taskID, experimentID, req.ScenarioID, req.ModelA, req.ModelB, req.VideoAURL, req.VideoBURL)
	if err != nil {
		slog.Error("failed to add comparison task", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add task")
		return
	}

	slog.Info("comparison task added", "task_id", taskID, "experiment_id", experimentID, "scenario_id", req.ScenarioID)

	middleware.JSONResponse(w, http.StatusCreated, models.AddTaskResponse{TaskID: taskID})
}

// AddSingleVideo handles POST /experiments/{id}/videos
func (h *ExperimentHandler) AddSingleVideo(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	if !h.authorize(w, r, experimentID) {
		return
	}

	var req models.AddSingleVideoRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ScenarioID == "" || req.ModelName == "" || req.VideoURL == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "scenario_id, model_name, and video_url are required")
		return
	}

	taskID := auth.NewID()
	_, err := h.db.Exec(`
		INSERT INTO single_video_task (id, experiment_id, scenario_id, model_name, video_url)
		VALUES ($1, $2, $3, $4, $5)
	`, taskID, experimentID, req.ScenarioID, req.ModelName, req.VideoURL)
	if err != nil {
		slog.Error("failed to add single-video task", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add task")
		return
	}

	slog.Info("single-video task added", "task_id", taskID, "experiment_id", experimentID, "scenario_id", req.ScenarioID)

	middleware.JSONResponse(w, http.StatusCreated, models.AddTaskResponse{TaskID: taskID})
}

// Activate handles POST /experiments/{id}/activate
// Moves the experiment to active and stamps started_at on the first
// transition. A completed experiment cannot reopen.
func (h *ExperimentHandler) Activate(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	if !h.authorize(w, r, experimentID) {
		return
	}

	var status string
	var startedAt sql.NullTime
	err := h.db.QueryRow(`
		SELECT status, started_at FROM experiment WHERE id = $1 AND archived = FALSE
	`, experimentID).Scan(&status, &startedAt)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
		return
	}
	if err != nil {
		slog.Error("failed to query experiment", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if status == models.ExperimentCompleted {
		middleware.ErrorResponse(w, http.StatusConflict, "Experiment is completed")
		return
	}

	if !startedAt.Valid {
		startedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	_, err = h.db.Exec(`
		UPDATE experiment SET status = 'active', started_at = $2
		WHERE id = $1 AND status <> 'completed'
	`, experimentID, startedAt.Time)
	if err != nil {
		slog.Error("failed to activate experiment", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to activate experiment")
		return
	}

	slog.Info("experiment activated", "experiment_id", experimentID)

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"experiment_id": experimentID,
		"status":        models.ExperimentActive,
	})
}

// Archive handles POST /experiments/{id}/archive
// Soft delete: the experiment and its data survive but drop out of task
// assignment and analytics. Archiving twice is a no-op.
func (h *ExperimentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	if !h.authorize(w, r, experimentID) {
		return
	}

	result, err := h.db.Exec(`
		UPDATE experiment SET archived = TRUE, archived_at = COALESCE(archived_at, $2)
		WHERE id = $1
	`, experimentID, time.Now())
	if err != nil {
		slog.Error("failed to archive experiment", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to archive experiment")
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
		return
	}

	slog.Info("experiment archived", "experiment_id", experimentID)

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"experiment_id": experimentID,
		"archived":      true,
	})
}

// Publish handles POST /experiments/{id}/publish
// Creates a recruitment study for the experiment if none is linked yet,
// then publishes it and reconciles the local status with the study's.
func (h *ExperimentHandler) Publish(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	if !h.authorize(w, r, experimentID) {
		return
	}

	var req models.PublishStudyRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if !h.platform.Configured() {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Platform integration is not configured")
		return
	}

	var name string
	var description sql.NullString
	var status string
	var studyID sql.NullString
	var startedAt sql.NullTime
	err := h.db.QueryRow(`
		SELECT name, description, status, prolific_study_id, started_at FROM experiment WHERE id = $1
	`, experimentID).Scan(&name, &description, &status, &studyID, &startedAt)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
		return
	}
	if err != nil {
		slog.Error("failed to query experiment", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if !studyID.Valid {
		if req.ExternalStudyURL == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, "external_study_url is required to create a study")
			return
		}
		if req.TotalAvailablePlaces <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "total_available_places must be positive")
			return
		}

		study, err := h.platform.CreateStudy(prolific.CreateStudyRequest{
			Name:                    name,
			Description:             description.String,
			ExternalStudyURL:        req.ExternalStudyURL,
			EstimatedCompletionTime: req.EstimatedCompletionTime,
			Reward:                  req.Reward,
			TotalAvailablePlaces:    req.TotalAvailablePlaces,
		})
		if err != nil {
			slog.Error("failed to create study", "error", err, "experiment_id", experimentID)
			middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to create study")
			return
		}

		_, err = h.db.Exec(`
			UPDATE experiment SET prolific_study_id = $2 WHERE id = $1
		`, experimentID, study.ID)
		if err != nil {
			slog.Error("failed to link study", "error", err, "experiment_id", experimentID, "study_id", study.ID)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to link study")
			return
		}
		studyID = sql.NullString{String: study.ID, Valid: true}
		slog.Info("study created", "experiment_id", experimentID, "study_id", study.ID)
	}

	study, err := h.platform.PublishStudy(studyID.String)
	if err != nil {
		slog.Error("failed to publish study", "error", err, "study_id", studyID.String)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to publish study")
		return
	}

	reconciled, changed := prolific.Reconcile(status, study.Status)
	if changed {
		if reconciled == models.ExperimentActive && !startedAt.Valid {
			startedAt = sql.NullTime{Time: time.Now(), Valid: true}
		}
		_, err = h.db.Exec(`
			UPDATE experiment SET status = $2, started_at = $3 WHERE id = $1
		`, experimentID, reconciled, startedAt)
		if err != nil {
			slog.Error("failed to persist reconciled status", "error", err, "experiment_id", experimentID)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update experiment")
			return
		}
	}

	slog.Info("study published", "experiment_id", experimentID, "study_id", studyID.String, "study_status", study.Status)

	middleware.JSONResponse(w, http.StatusOK, models.PublishStudyResponse{
		ExperimentID: experimentID,
		StudyID:      studyID.String,
		StudyStatus:  study.Status,
		Status:       reconciled,
	})
}

// Sync handles POST /experiments/{id}/sync
// Pulls the linked Prolific study's status and reconciles the local
// status against it, then settles the study's submissions against local
// completion state. Local status only moves forward.
func (h *ExperimentHandler) Sync(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")

	if !h.authorize(w, r, experimentID) {
		return
	}

	var status string
	var studyID sql.NullString
	var startedAt sql.NullTime
	err := h.db.QueryRow(`
		SELECT status, prolific_study_id, started_at FROM experiment WHERE id = $1
	`, experimentID).Scan(&status, &studyID, &startedAt)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
		return
	}
	if err != nil {
		slog.Error("failed to query experiment", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if !studyID.Valid {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Experiment has no linked study")
		return
	}
	if !h.platform.Configured() {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Platform integration is not configured")
		return
	}

	study, err := h.platform.GetStudy(studyID.String)
	if err != nil {
		slog.Error("failed to fetch study", "error", err, "study_id", studyID.String)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to reach study platform")
		return
	}

	reconciled, changed := prolific.Reconcile(status, study.Status)
	if changed {
		if reconciled == models.ExperimentActive && !startedAt.Valid {
			startedAt = sql.NullTime{Time: time.Now(), Valid: true}
		}
		_, err = h.db.Exec(`
			UPDATE experiment SET status = $2, started_at = $3 WHERE id = $1
		`, experimentID, reconciled, startedAt)
		if err != nil {
			slog.Error("failed to persist reconciled status", "error", err, "experiment_id", experimentID)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update experiment")
			return
		}
		slog.Info("experiment status reconciled",
			"experiment_id", experimentID,
			"from", status,
			"to", reconciled,
			"platform_status", study.Status,
		)
	}

	resp := models.SyncExperimentResponse{
		ExperimentID:   experimentID,
		PlatformStatus: study.Status,
		Status:         reconciled,
		Changed:        changed,
	}

	settled, err := h.syncSubmissions(experimentID, studyID.String)
	if err != nil {
		// The status reconciliation above already persisted; the next
		// sync picks the submissions back up.
		slog.Warn("failed to settle study submissions", "error", err, "study_id", studyID.String)
	} else {
		resp.SubmissionsReviewed = settled.reviewed
		resp.SubmissionsApproved = settled.approved
		resp.SubmissionsRejected = settled.rejected
		resp.ParticipantsReturned = settled.returned
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

type submissionSyncResult struct {
	reviewed int
	approved int
	rejected int
	returned int
}

// syncSubmissions walks the study's submissions on the platform and
// settles each one against local state. A submission awaiting review is
// approved when its participant completed every assigned task and
// rejected otherwise; returned or already-rejected sessions mark the
// participant so analytics and assignment stop counting them.
func (h *ExperimentHandler) syncSubmissions(experimentID, studyID string) (submissionSyncResult, error) {
	var settled submissionSyncResult

	submissions, err := h.platform.ListSubmissions(studyID)
	if err != nil {
		return settled, err
	}

	for _, sub := range submissions {
		var participantID, status string
		err := h.db.QueryRow(`
			SELECT id, status FROM participant WHERE external_id = $1 AND experiment_id = $2
		`, sub.ParticipantID, experimentID).Scan(&participantID, &status)
		if err == sql.ErrNoRows {
			// Submission from someone who never registered here.
			continue
		}
		if err != nil {
			slog.Warn("failed to look up participant for submission",
				"error", err, "external_id", sub.ParticipantID, "submission_id", sub.ID)
			continue
		}

		_, err = h.db.Exec(`
			UPDATE participant SET prolific_submission_id = $2
			WHERE id = $1 AND prolific_submission_id IS NULL
		`, participantID, sub.ID)
		if err != nil {
			slog.Warn("failed to record submission id", "error", err, "participant_id", participantID)
		}

		switch sub.Status {
		case prolific.SubmissionAwaitingReview:
			settled.reviewed++
			if status == models.ParticipantCompleted {
				if err := h.platform.ApproveSubmission(sub.ID); err != nil {
					slog.Warn("failed to approve submission", "error", err, "submission_id", sub.ID)
					continue
				}
				settled.approved++
				slog.Info("submission approved", "submission_id", sub.ID, "participant_id", participantID)
			} else {
				if err := h.platform.RejectSubmission(sub.ID, "Assigned evaluations were not completed"); err != nil {
					slog.Warn("failed to reject submission", "error", err, "submission_id", sub.ID)
					continue
				}
				settled.rejected++
				h.markParticipant(participantID, models.ParticipantScreeningFailed)
				slog.Info("submission rejected", "submission_id", sub.ID, "participant_id", participantID)
			}
		case prolific.SubmissionRejected:
			h.markParticipant(participantID, models.ParticipantScreeningFailed)
		case prolific.SubmissionReturned:
			if status != models.ParticipantReturned && status != models.ParticipantCompleted {
				settled.returned++
			}
			h.markParticipant(participantID, models.ParticipantReturned)
		}
	}

	return settled, nil
}

// markParticipant moves a participant to a terminal platform-driven
// status. A locally completed participant is never downgraded.
func (h *ExperimentHandler) markParticipant(participantID, status string) {
	_, err := h.db.Exec(`
		UPDATE participant SET status = $2
		WHERE id = $1 AND status NOT IN ('completed', $2)
	`, participantID, status)
	if err != nil {
		slog.Warn("failed to update participant status", "error", err, "participant_id", participantID, "status", status)
	}
}

// authorize validates the X-Admin-Key header against the experiment's
// derived admin key and rejects archived experiments for task mutations.
func (h *ExperimentHandler) authorize(w http.ResponseWriter, r *http.Request, experimentID string) bool {
	if experimentID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "experiment id is required")
		return false
	}
	key := r.Header.Get("X-Admin-Key")
	if err := auth.ValidateAdminKey(experimentID, key, h.cfg.AdminKeySalt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin key")
		return false
	}

	var archived bool
	err := db.WithRetry(func() error {
		return h.db.QueryRow(`SELECT archived FROM experiment WHERE id = $1`, experimentID).Scan(&archived)
	})
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
		return false
	}
	if err != nil {
		slog.Error("failed to query experiment", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return false
	}
	if archived && r.URL.Path != "/experiments/"+experimentID+"/archive" {
		middleware.ErrorResponse(w, http.StatusConflict, "Experiment is archived")
		return false
	}
	return true
}
