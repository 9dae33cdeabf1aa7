// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/worldeval/cliparse"
	"github.com/danielhkuo/worldeval/db"
	"github.com/danielhkuo/worldeval/middleware"
	"github.com/danielhkuo/worldeval/models"
)

type AnalyticsHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewAnalyticsHandler(db *sql.DB, cfg cliparse.Config) *AnalyticsHandler {
	return &AnalyticsHandler{db: db, cfg: cfg}
}

// ModelPerformance handles GET /model-performance
// Aggregates per-model, per-dimension win rates across all completed
// comparison evaluations in non-archived experiments. The group query
// parameter narrows to experiments with that group label; anonymous
// participants are excluded unless include_anonymous=true.
func (h *AnalyticsHandler) ModelPerformance(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	includeAnonymous := r.URL.Query().Get("include_anonymous") == "true"

	query := `
		SELECT t.model_a, t.model_b, s.dimension_scores
		FROM submission s
		JOIN comparison_task t ON t.id = s.task_id
		JOIN experiment e ON e.id = s.experiment_id
		JOIN participant p ON p.id = s.participant_id
		WHERE s.status = 'completed'
		  AND s.task_type = 'comparison'
		  AND e.archived = FALSE
	`
	args := []interface{}{}
	if group != "" {
		query += ` AND e.group_label = $1`
		args = append(args, group)
	}
	if !includeAnonymous {
		query += ` AND p.source <> 'anonymous'`
	}

	var evals []ComparisonVerdicts
	err := db.WithRetry(func() error {
		rows, err := h.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		evals = evals[:0]
		for rows.Next() {
			var eval ComparisonVerdicts
			var scoresJSON []byte
			if err := rows.Scan(&eval.ModelA, &eval.ModelB, &scoresJSON); err != nil {
				return err
			}
			if err := json.Unmarshal(scoresJSON, &eval.Verdicts); err != nil {
				slog.Warn("skipping evaluation with undecodable scores", "error", err)
				continue
			}
			evals = append(evals, eval)
		}
		return rows.Err()
	})
	if err != nil {
		slog.Error("failed to query completed evaluations", "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"performance": ComputeModelPerformance(evals),
	})
}

// ComparisonProgress handles GET /comparison-progress
// Reports completed-evaluation counts per comparison task against the
// experiment's per-task target. Percentages are not clamped at 100.
func (h *AnalyticsHandler) ComparisonProgress(w http.ResponseWriter, r *http.Request) {
	experimentID := r.URL.Query().Get("experiment_id")

	query := `
		SELECT t.id, t.scenario_id, t.model_a, t.model_b, e.config,
		       COUNT(CASE WHEN s.status = 'completed' THEN 1 END)
		FROM comparison_task t
		JOIN experiment e ON e.id = t.experiment_id
		LEFT JOIN submission s ON s.task_id = t.id
		WHERE e.archived = FALSE
	`
	args := []interface{}{}
	if experimentID != "" {
		query += ` AND e.id = $1`
		args = append(args, experimentID)
	}
	query += `
		GROUP BY t.id, t.scenario_id, t.model_a, t.model_b, e.config, t.created_at
		ORDER BY t.created_at, t.id
	`

	progress := []models.ComparisonProgress{}
	err := db.WithRetry(func() error {
		rows, err := h.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		progress = progress[:0]
		for rows.Next() {
			var p models.ComparisonProgress
			var configJSON []byte
			if err := rows.Scan(&p.TaskID, &p.ScenarioID, &p.ModelA, &p.ModelB, &configJSON, &p.EvaluationCount); err != nil {
				return err
			}
			p.TargetEvaluations = models.TargetEvaluations(configJSON)
			p.ProgressPercentage = progressPercentage(p.EvaluationCount, p.TargetEvaluations)
			progress = append(progress, p)
		}
		return rows.Err()
	})
	if err != nil {
		slog.Error("failed to query comparison progress", "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, map[string]interface{}{
		"progress": progress,
	})
}
