// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"encoding/json"
	"time"
)

// Experiment status constants
const (
	ExperimentDraft     = "draft"
	ExperimentReady     = "ready"
	ExperimentActive    = "active"
	ExperimentPaused    = "paused"
	ExperimentCompleted = "completed"
)

// Participant status constants
const (
	ParticipantActive          = "active"
	ParticipantCompleted       = "completed"
	ParticipantScreeningFailed = "screening_failed"
	ParticipantReturned        = "returned"
)

// Participant source constants
const (
	SourceRegistered = "registered"
	SourceAnonymous  = "anonymous"
)

// Submission status constants
const (
	SubmissionDraft     = "draft"
	SubmissionCompleted = "completed"
)

// Task type constants
const (
	TaskComparison  = "comparison"
	TaskSingleVideo = "single_video"
)

// Comparison verdict constants. Verdicts name the anonymized label,
// never the underlying model.
const (
	VerdictA     = "A"
	VerdictB     = "B"
	VerdictEqual = "Equal"
)

// Request types

type CreateExperimentRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Group              string `json:"group"`
	EvaluationsPerTask int    `json:"evaluations_per_task"`
	ProlificStudyID    string `json:"prolific_study_id"`
}

type AddComparisonRequest struct {
	ScenarioID string `json:"scenario_id"`
	ModelA     string `json:"model_a"`
	ModelB     string `json:"model_b"`
	VideoAURL  string `json:"video_a_url"`
	VideoBURL  string `json:"video_b_url"`
}

type AddSingleVideoRequest struct {
	ScenarioID string `json:"scenario_id"`
	ModelName  string `json:"model_name"`
	VideoURL   string `json:"video_url"`
}

// PublishStudyRequest carries the study parameters for launching an
// experiment on the recruitment platform. Reward is in cents,
// estimated_completion_time in minutes.
type PublishStudyRequest struct {
	ExternalStudyURL        string `json:"external_study_url"`
	EstimatedCompletionTime int    `json:"estimated_completion_time"`
	Reward                  int    `json:"reward"`
	TotalAvailablePlaces    int    `json:"total_available_places"`
}

type RegisterParticipantRequest struct {
	ExternalID           string   `json:"external_id"`
	ExperimentID         string   `json:"experiment_id"`
	ProlificSubmissionID string   `json:"prolific_submission_id"`
	TaskIDs              []string `json:"task_ids"` // optional; defaults to the experiment's full task set
}

// SaveDraftRequest carries a partial or final set of dimension scores.
// Scores are raw JSON values: label verdicts ("A"/"B"/"Equal") for
// comparison tasks, numeric ratings for single-video tasks.
type SaveDraftRequest struct {
	TaskID          string                     `json:"task_id"`
	ParticipantID   string                     `json:"participant_id"`
	SessionID       string                     `json:"session_id"`
	DimensionScores map[string]json.RawMessage `json:"dimension_scores"`
	ClientMetadata  map[string]any             `json:"client_metadata"`
}

type SubmitEvaluationRequest struct {
	TaskID                string                     `json:"task_id"`
	ParticipantID         string                     `json:"participant_id"`
	SessionID             string                     `json:"session_id"`
	DimensionScores       map[string]json.RawMessage `json:"dimension_scores"`
	CompletionTimeSeconds float64                    `json:"completion_time_seconds"`
	ClientMetadata        map[string]any             `json:"client_metadata"`
}

// Response types

type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
	AdminKey     string `json:"admin_key"`
}

type AddTaskResponse struct {
	TaskID string `json:"task_id"`
}

type RegisterParticipantResponse struct {
	ParticipantID  string `json:"participant_id"`
	CompletionCode string `json:"completion_code"`
	AssignedTasks  int    `json:"assigned_tasks"`
}

type SaveDraftResponse struct {
	EvaluationID string    `json:"evaluation_id"`
	LastSavedAt  time.Time `json:"last_saved_at"`
}

type SubmitEvaluationResponse struct {
	EvaluationID         string `json:"evaluation_id"`
	ParticipantCompleted bool   `json:"participant_completed"`
	CompletionCode       string `json:"completion_code,omitempty"`
	Warning              string `json:"warning,omitempty"`
}

type NextTaskResponse struct {
	TaskID       *string `json:"task_id"`
	TaskType     string  `json:"task_type,omitempty"`
	ExperimentID string  `json:"experiment_id,omitempty"`
}

type PublishStudyResponse struct {
	ExperimentID string `json:"experiment_id"`
	StudyID      string `json:"study_id"`
	StudyStatus  string `json:"study_status"`
	Status       string `json:"status"`
}

type SyncExperimentResponse struct {
	ExperimentID         string `json:"experiment_id"`
	PlatformStatus       string `json:"platform_status"`
	Status               string `json:"status"`
	Changed              bool   `json:"changed"`
	SubmissionsReviewed  int    `json:"submissions_reviewed"`
	SubmissionsApproved  int    `json:"submissions_approved"`
	SubmissionsRejected  int    `json:"submissions_rejected"`
	ParticipantsReturned int    `json:"participants_returned"`
}

// Domain types

type Experiment struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Group           string     `json:"group,omitempty"`
	Status          string     `json:"status"`
	Archived        bool       `json:"archived"`
	Config          Config     `json:"config"`
	ProlificStudyID *string    `json:"prolific_study_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Config is the experiment configuration blob. It is stored as JSON so
// that unknown keys written by other tooling survive reads.
type Config struct {
	EvaluationsPerTask int `json:"evaluationsPerTask"`
}

// TargetEvaluations parses the target out of a raw config blob. Absent or
// malformed configuration means "no target", reported as 0.
func TargetEvaluations(raw []byte) int {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return 0
	}
	if cfg.EvaluationsPerTask < 0 {
		return 0
	}
	return cfg.EvaluationsPerTask
}

// Task is the polymorphic catalog view of a comparison or single-video
// task. ModelA/ModelB hold real model names and are cleared before the
// task is returned to a non-admin caller.
type Task struct {
	ID                string    `json:"id"`
	TaskType          string    `json:"task_type"`
	ExperimentID      string    `json:"experiment_id"`
	ScenarioID        string    `json:"scenario_id"`
	VideoAURL         string    `json:"video_a_url,omitempty"`
	VideoBURL         string    `json:"video_b_url,omitempty"`
	VideoURL          string    `json:"video_url,omitempty"`
	ModelA            string    `json:"model_a,omitempty"`
	ModelB            string    `json:"model_b,omitempty"`
	ModelName         string    `json:"model_name,omitempty"`
	TargetEvaluations int       `json:"target_evaluations"`
	CreatedAt         time.Time `json:"created_at"`
}

// Anonymize strips every field that could reveal which model produced
// which video.
func (t *Task) Anonymize() {
	t.ModelA = ""
	t.ModelB = ""
	t.ModelName = ""
}

type Participant struct {
	ID              string     `json:"id"`
	ExternalID      *string    `json:"external_id,omitempty"`
	Source          string     `json:"source"`
	Status          string     `json:"status"`
	ExperimentID    *string    `json:"experiment_id,omitempty"`
	AssignedTaskIDs []string   `json:"assigned_task_ids"`
	CompletionCode  string     `json:"completion_code"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Submission struct {
	ID                    string                     `json:"id"`
	TaskID                string                     `json:"task_id"`
	TaskType              string                     `json:"task_type"`
	ExperimentID          string                     `json:"experiment_id"`
	ParticipantID         string                     `json:"participant_id"`
	Status                string                     `json:"status"`
	DimensionScores       map[string]json.RawMessage `json:"dimension_scores"`
	ChosenModel           *string                    `json:"chosen_model,omitempty"`
	CompletionTimeSeconds *float64                   `json:"completion_time_seconds,omitempty"`
	ClientMetadata        map[string]any             `json:"client_metadata,omitempty"`
	LastSavedAt           time.Time                  `json:"last_saved_at"`
	CreatedAt             time.Time                  `json:"created_at"`
}

// Analytics types

type ModelPerformance struct {
	Model          string  `json:"model"`
	Dimension      string  `json:"dimension"`
	WinRate        float64 `json:"win_rate"`
	NumEvaluations int     `json:"num_evaluations"`
	StandardError  float64 `json:"standard_error"`
}

type ComparisonProgress struct {
	TaskID             string `json:"task_id"`
	ScenarioID         string `json:"scenario_id"`
	ModelA             string `json:"model_a"`
	ModelB             string `json:"model_b"`
	EvaluationCount    int    `json:"evaluation_count"`
	TargetEvaluations  int    `json:"target_evaluations"`
	ProgressPercentage int    `json:"progress_percentage"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
