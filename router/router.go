// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/danielhkuo/worldeval/cliparse"
	"github.com/danielhkuo/worldeval/handlers"
	"github.com/danielhkuo/worldeval/middleware"
	"github.com/danielhkuo/worldeval/prolific"
)

func NewRouter(db *sql.DB, cfg cliparse.Config) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	platform := prolific.NewClient(cfg.ProlificToken, cfg.ProlificBaseURL)
	experimentHandler := handlers.NewExperimentHandler(db, cfg, platform)
	taskHandler := handlers.NewTaskHandler(db, cfg)
	submissionHandler := handlers.NewSubmissionHandler(db, cfg, platform)
	participantHandler := handlers.NewParticipantHandler(db, cfg)
	analyticsHandler := handlers.NewAnalyticsHandler(db, cfg)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Experiment management (admin operations)
	mux.HandleFunc("POST /experiments", middleware.WithLogging(experimentHandler.CreateExperiment))
	mux.HandleFunc("POST /experiments/{id}/comparisons", middleware.WithLogging(experimentHandler.AddComparison))
	mux.HandleFunc("POST /experiments/{id}/videos", middleware.WithLogging(experimentHandler.AddSingleVideo))
	mux.HandleFunc("POST /experiments/{id}/activate", middleware.WithLogging(experimentHandler.Activate))
	mux.HandleFunc("POST /experiments/{id}/archive", middleware.WithLogging(experimentHandler.Archive))
	mux.HandleFunc("POST /experiments/{id}/publish", middleware.WithLogging(experimentHandler.Publish))
	mux.HandleFunc("POST /experiments/{id}/sync", middleware.WithLogging(experimentHandler.Sync))

	// Task catalog and assignment
	mux.HandleFunc("GET /experiments/{id}/tasks", middleware.WithLogging(taskHandler.ListExperimentTasks))
	mux.HandleFunc("GET /tasks/{id}", middleware.WithLogging(taskHandler.GetTask))
	mux.HandleFunc("GET /next-task", middleware.WithLogging(taskHandler.NextTask))

	// Evaluation lifecycle
	mux.HandleFunc("POST /drafts", middleware.WithLogging(submissionHandler.SaveDraft))
	mux.HandleFunc("GET /drafts", middleware.WithLogging(submissionHandler.GetDraft))
	mux.HandleFunc("POST /evaluations", middleware.WithLogging(submissionHandler.SubmitEvaluation))

	// Participant management
	mux.HandleFunc("POST /participants", middleware.WithLogging(participantHandler.RegisterParticipant))
	mux.HandleFunc("GET /participants/{id}", middleware.WithLogging(participantHandler.GetParticipant))

	// Analytics
	mux.HandleFunc("GET /model-performance", middleware.WithLogging(analyticsHandler.ModelPerformance))
	mux.HandleFunc("GET /comparison-progress", middleware.WithLogging(analyticsHandler.ComparisonProgress))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("worldeval API v1"))
	})

	return mux
}
