// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielhkuo/worldeval/models"
	"github.com/danielhkuo/worldeval/prolific"
	"github.com/danielhkuo/worldeval/testutil"
)

func TestRegisterParticipant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg)

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 3)
	task1 := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")
	task2 := testutil.CreateTestSingleVideoTask(t, db, experimentID, "scenario-2", "model-x")

	req := testutil.MakeRequest("POST", "/participants", models.RegisterParticipantRequest{
		ExternalID:   "PROLIFIC-123",
		ExperimentID: experimentID,
	}, nil)
	w := httptest.NewRecorder()

	handler.RegisterParticipant(w, req)

	testutil.AssertStatus(t, w, http.StatusCreated)

	var resp models.RegisterParticipantResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.ParticipantID == "" {
		t.Error("Expected non-empty participant_id")
	}
	if !strings.HasPrefix(resp.CompletionCode, "WE-") {
		t.Errorf("Expected WE- completion code, got %s", resp.CompletionCode)
	}
	// Default assignment is the experiment's full current task set
	if resp.AssignedTasks != 2 {
		t.Errorf("Expected 2 assigned tasks, got %d", resp.AssignedTasks)
	}

	var assignedJSON []byte
	if err := db.QueryRow(`SELECT assigned_task_ids FROM participant WHERE id = $1`,
		resp.ParticipantID).Scan(&assignedJSON); err != nil {
		t.Fatalf("Failed to query participant: %v", err)
	}
	var assigned []string
	if err := json.Unmarshal(assignedJSON, &assigned); err != nil {
		t.Fatalf("Failed to decode assignment: %v", err)
	}
	// Comparison tasks come first in the snapshot
	if len(assigned) != 2 || assigned[0] != task1 || assigned[1] != task2 {
		t.Errorf("Expected assignment [%s %s], got %v", task1, task2, assigned)
	}
}

func TestRegisterParticipantValidation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg)

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 3)

	tests := []struct {
		name           string
		requestBody    models.RegisterParticipantRequest
		expectedStatus int
	}{
		{
			name:           "missing external id",
			requestBody:    models.RegisterParticipantRequest{ExperimentID: experimentID},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing experiment id",
			requestBody:    models.RegisterParticipantRequest{ExternalID: "EXT-1"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown experiment",
			requestBody:    models.RegisterParticipantRequest{ExternalID: "EXT-1", ExperimentID: "no-such-experiment"},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.MakeRequest("POST", "/participants", tt.requestBody, nil)
			w := httptest.NewRecorder()

			handler.RegisterParticipant(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}
}

func TestRegisterParticipantDuplicateExternalID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg)

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 3)

	register := func() *httptest.ResponseRecorder {
		req := testutil.MakeRequest("POST", "/participants", models.RegisterParticipantRequest{
			ExternalID:   "PROLIFIC-123",
			ExperimentID: experimentID,
		}, nil)
		w := httptest.NewRecorder()
		handler.RegisterParticipant(w, req)
		return w
	}

	testutil.AssertStatus(t, register(), http.StatusCreated)
	testutil.AssertStatus(t, register(), http.StatusConflict)
}

func TestGetParticipant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	handler := NewParticipantHandler(db, cfg)

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 3)
	taskID := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")
	participantID := testutil.CreateTestParticipant(t, db, cfg, "PROLIFIC-123", experimentID, []string{taskID})

	// Lookup by internal id and by external id both resolve
	for _, id := range []string{participantID, "PROLIFIC-123"} {
		req := testutil.MakeRequest("GET", "/participants/"+id, nil, nil)
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()

		handler.GetParticipant(w, req)

		testutil.AssertStatus(t, w, http.StatusOK)

		var resp struct {
			Participant    models.Participant `json:"participant"`
			CompletedTasks int                `json:"completed_tasks"`
			AssignedTasks  int                `json:"assigned_tasks"`
		}
		testutil.AssertJSON(t, w, &resp)
		if resp.Participant.ID != participantID {
			t.Errorf("Expected participant %s, got %s", participantID, resp.Participant.ID)
		}
		if resp.AssignedTasks != 1 || resp.CompletedTasks != 0 {
			t.Errorf("Expected 1 assigned / 0 completed, got %d / %d", resp.AssignedTasks, resp.CompletedTasks)
		}
	}

	req := testutil.MakeRequest("GET", "/participants/no-such-participant", nil, nil)
	req.SetPathValue("id", "no-such-participant")
	w := httptest.NewRecorder()
	handler.GetParticipant(w, req)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestParticipantCompletionTransition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	handler := NewSubmissionHandler(db, cfg, prolific.NewClient("", ""))

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 3)
	task1 := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")
	task2 := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-2", "model-x", "model-y")
	participantID := testutil.CreateTestParticipant(t, db, cfg, "EXT-1", experimentID, []string{task1, task2})

	submit := func(taskID string) models.SubmitEvaluationResponse {
		req := testutil.MakeRequest("POST", "/evaluations", models.SubmitEvaluationRequest{
			TaskID:          taskID,
			ParticipantID:   participantID,
			DimensionScores: map[string]json.RawMessage{"quality": rawScore("A")},
		}, nil)
		w := httptest.NewRecorder()
		handler.SubmitEvaluation(w, req)
		testutil.AssertStatus(t, w, http.StatusCreated)

		var resp models.SubmitEvaluationResponse
		testutil.AssertJSON(t, w, &resp)
		return resp
	}

	first := submit(task1)
	if first.ParticipantCompleted {
		t.Error("Participant completed after 1 of 2 tasks")
	}
	if first.CompletionCode != "" {
		t.Error("Completion code issued before the task set is done")
	}

	second := submit(task2)
	if !second.ParticipantCompleted {
		t.Error("Participant not completed after finishing all assigned tasks")
	}
	if !strings.HasPrefix(second.CompletionCode, "WE-") {
		t.Errorf("Expected WE- completion code, got %q", second.CompletionCode)
	}

	var status string
	var completedAt *string
	if err := db.QueryRow(`SELECT status, completed_at::text FROM participant WHERE id = $1`,
		participantID).Scan(&status, &completedAt); err != nil {
		t.Fatalf("Failed to query participant: %v", err)
	}
	if status != "completed" {
		t.Errorf("Expected participant status completed, got %s", status)
	}
	if completedAt == nil {
		t.Error("Expected completed_at to be stamped")
	}
}

func TestEmptyAssignmentNeverCompletes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	handler := NewSubmissionHandler(db, cfg, prolific.NewClient("", ""))

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 3)
	taskID := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")

	// Assignment list is empty: completing a task must not flip the status
	participantID := testutil.CreateTestParticipant(t, db, cfg, "EXT-1", experimentID, []string{})

	req := testutil.MakeRequest("POST", "/evaluations", models.SubmitEvaluationRequest{
		TaskID:          taskID,
		ParticipantID:   participantID,
		DimensionScores: map[string]json.RawMessage{"quality": rawScore("A")},
	}, nil)
	w := httptest.NewRecorder()
	handler.SubmitEvaluation(w, req)
	testutil.AssertStatus(t, w, http.StatusCreated)

	var resp models.SubmitEvaluationResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.ParticipantCompleted {
		t.Error("Participant with empty assignment must not auto-complete")
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM participant WHERE id = $1`, participantID).Scan(&status); err != nil {
		t.Fatalf("Failed to query participant: %v", err)
	}
	if status != "active" {
		t.Errorf("Expected participant to stay active, got %s", status)
	}
}
