// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/worldeval/auth"
	"github.com/danielhkuo/worldeval/cliparse"
	"github.com/danielhkuo/worldeval/db"
	"github.com/danielhkuo/worldeval/middleware"
	"github.com/danielhkuo/worldeval/models"
)

type TaskHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewTaskHandler(db *sql.DB, cfg cliparse.Config) *TaskHandler {
	return &TaskHandler{db: db, cfg: cfg}
}

// taskInfo is the minimal task view the submission path needs.
type taskInfo struct {
	ID           string
	TaskType     string
	ExperimentID string
	ScenarioID   string
	ModelA       string
	ModelB       string
}

// lookupTask fetches a task by id across both pools.
// Returns sql.ErrNoRows when the id matches neither.
func lookupTask(conn *sql.DB, taskID string) (*taskInfo, error) {
	var info taskInfo

	err := db.WithRetry(func() error {
		return conn.QueryRow(`
			SELECT id, experiment_id, scenario_id, model_a, model_b
			FROM comparison_task WHERE id = $1
		`, taskID).Scan(&info.ID, &info.ExperimentID, &info.ScenarioID, &info.ModelA, &info.ModelB)
	})
	if err == nil {
		info.TaskType = models.TaskComparison
		return &info, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	err = db.WithRetry(func() error {
		return conn.QueryRow(`
			SELECT id, experiment_id, scenario_id, model_name
			FROM single_video_task WHERE id = $1
		`, taskID).Scan(&info.ID, &info.ExperimentID, &info.ScenarioID, &info.ModelA)
	})
	if err != nil {
		return nil, err
	}
	info.TaskType = models.TaskSingleVideo
	return &info, nil
}

// GetTask handles GET /tasks/:id
// Returns the task with its target evaluation count. Model names are
// stripped unless the caller presents the owning experiment's admin key.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "task id is required")
		return
	}

	task, err := h.loadTask(taskID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		slog.Error("failed to query task", "error", err, "task_id", taskID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	adminKey := r.Header.Get("X-Admin-Key")
	if adminKey == "" || auth.ValidateAdminKey(task.ExperimentID, adminKey, h.cfg.AdminKeySalt) != nil {
		task.Anonymize()
	}

	middleware.JSONResponse(w, http.StatusOK, task)
}

func (h *TaskHandler) loadTask(taskID string) (*models.Task, error) {
	var task models.Task
	var config []byte

	err := db.WithRetry(func() error {
		return h.db.QueryRow(`
			SELECT t.id, t.experiment_id, t.scenario_id, t.model_a, t.model_b,
			       t.video_a_url, t.video_b_url, t.created_at, e.config
			FROM comparison_task t
			JOIN experiment e ON e.id = t.experiment_id
			WHERE t.id = $1
		`, taskID).Scan(
			&task.ID, &task.ExperimentID, &task.ScenarioID, &task.ModelA, &task.ModelB,
			&task.VideoAURL, &task.VideoBURL, &task.CreatedAt, &config,
		)
	})
	if err == nil {
		task.TaskType = models.TaskComparison
		task.TargetEvaluations = models.TargetEvaluations(config)
		return &task, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	err = db.WithRetry(func() error {
		return h.db.QueryRow(`
			SELECT t.id, t.experiment_id, t.scenario_id, t.model_name, t.video_url,
			       t.created_at, e.config
			FROM single_video_task t
			JOIN experiment e ON e.id = t.experiment_id
			WHERE t.id = $1
		`, taskID).Scan(
			&task.ID, &task.ExperimentID, &task.ScenarioID, &task.ModelName, &task.VideoURL,
			&task.CreatedAt, &config,
		)
	})
	if err != nil {
		return nil, err
	}
	task.TaskType = models.TaskSingleVideo
	task.TargetEvaluations = models.TargetEvaluations(config)
	return &task, nil
}

// ListExperimentTasks handles GET /experiments/:id/tasks
// Public callers only see tasks of live, unarchived experiments, and
// never the model names. Admin callers get the unfiltered view.
func (h *TaskHandler) ListExperimentTasks(w http.ResponseWriter, r *http.Request) {
	experimentID := r.PathValue("id")
	if experimentID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "experiment id is required")
		return
	}

	var status string
	var archived bool
	var config []byte
	err := db.WithRetry(func() error {
		return h.db.QueryRow(`
			SELECT status, archived, config FROM experiment WHERE id = $1
		`, experimentID).Scan(&status, &archived, &config)
	})
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
		return
	}
	if err != nil {
		slog.Error("failed to query experiment", "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	admin := false
	if key := r.Header.Get("X-Admin-Key"); key != "" {
		admin = auth.ValidateAdminKey(experimentID, key, h.cfg.AdminKeySalt) == nil
	}

	if !admin {
		live := status == models.ExperimentActive || status == models.ExperimentReady
		if !live || archived {
			middleware.ErrorResponse(w, http.StatusNotFound, "Experiment not found")
			return
		}
	}

	target := models.TargetEvaluations(config)
	tasks := []models.Task{}

	err = db.WithRetry(func() error {
		tasks = tasks[:0]

		rows, err := h.db.Query(`
			SELECT id, experiment_id, scenario_id, model_a, model_b, video_a_url, video_b_url, created_at
			FROM comparison_task WHERE experiment_id = $1 ORDER BY created_at, id
		`, experimentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			task := models.Task{TaskType: models.TaskComparison, TargetEvaluations: target}
			if err := rows.Scan(&task.ID, &task.ExperimentID, &task.ScenarioID,
				&task.ModelA, &task.ModelB, &task.VideoAURL, &task.VideoBURL, &task.CreatedAt); err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = h.db.Query(`
			SELECT id, experiment_id, scenario_id, model_name, video_url, created_at
			FROM single_video_task WHERE experiment_id = $1 ORDER BY created_at, id
		`, experimentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			task := models.Task{TaskType: models.TaskSingleVideo, TargetEvaluations: target}
			if err := rows.Scan(&task.ID, &task.ExperimentID, &task.ScenarioID,
				&task.ModelName, &task.VideoURL, &task.CreatedAt); err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return rows.Err()
	})
	if err != nil {
		slog.Error("failed to query tasks", "error", err, "experiment_id", experimentID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	if !admin {
		for i := range tasks {
			tasks[i].Anonymize()
		}
	}

	middleware.JSONResponse(w, http.StatusOK, tasks)
}

// NextTask handles GET /next-task
// Scans comparison tasks in creation order, then single-video tasks,
// and returns the first one the participant has not completed. The
// {"task_id": null} sentinel means everything is done - it is not an error.
func (h *TaskHandler) NextTask(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant_id")
	sessionID := r.URL.Query().Get("session_id")
	experimentID := r.URL.Query().Get("experiment_id")

	if participantID == "" && sessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "participant_id or session_id is required")
		return
	}
	if participantID == "" {
		// Derivation only; the participant row is created lazily on first
		// submission, and an absent row simply means nothing is completed.
		participantID = auth.AnonymousID(sessionID)
	}

	for _, pool := range []string{models.TaskComparison, models.TaskSingleVideo} {
		taskID, expID, err := h.nextFromPool(pool, participantID, experimentID)
		if err != nil && err != sql.ErrNoRows {
			slog.Error("failed to select next task", "error", err, "pool", pool)
			middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
			return
		}
		if err == nil {
			middleware.JSONResponse(w, http.StatusOK, models.NextTaskResponse{
				TaskID:       &taskID,
				TaskType:     pool,
				ExperimentID: expID,
			})
			return
		}
	}

	middleware.JSONResponse(w, http.StatusOK, models.NextTaskResponse{TaskID: nil})
}

func (h *TaskHandler) nextFromPool(pool, participantID, experimentID string) (string, string, error) {
	table := "comparison_task"
	if pool == models.TaskSingleVideo {
		table = "single_video_task"
	}

	// Ordering is stable across calls: creation time, ties broken by id.
	var query string
	args := []interface{}{participantID}
	if experimentID != "" {
		query = `
			SELECT t.id, t.experiment_id
			FROM ` + table + ` t
			LEFT JOIN submission s ON s.task_id = t.id AND s.participant_id = $1
			WHERE t.experiment_id = $2
			  AND (s.id IS NULL OR s.status <> 'completed')
			ORDER BY t.created_at, t.id
			LIMIT 1`
		args = append(args, experimentID)
	} else {
		query = `
			SELECT t.id, t.experiment_id
			FROM ` + table + ` t
			JOIN experiment e ON e.id = t.experiment_id
			LEFT JOIN submission s ON s.task_id = t.id AND s.participant_id = $1
			WHERE e.status IN ('active', 'ready')
			  AND e.archived = FALSE
			  AND (s.id IS NULL OR s.status <> 'completed')
			ORDER BY t.created_at, t.id
			LIMIT 1`
	}

	var taskID, expID string
	err := db.WithRetry(func() error {
		return h.db.QueryRow(query, args...).Scan(&taskID, &expID)
	})
	return taskID, expID, err
}
