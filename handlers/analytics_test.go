// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/worldeval/models"
	"github.com/danielhkuo/worldeval/prolific"
	"github.com/danielhkuo/worldeval/testutil"
)

func completeEvaluation(t *testing.T, handler *SubmissionHandler, taskID, participantID string, verdict string) {
	t.Helper()

	req := testutil.MakeRequest("POST", "/evaluations", models.SubmitEvaluationRequest{
		TaskID:          taskID,
		ParticipantID:   participantID,
		DimensionScores: map[string]json.RawMessage{"quality": rawScore(verdict)},
	}, nil)
	w := httptest.NewRecorder()
	handler.SubmitEvaluation(w, req)
	testutil.AssertStatus(t, w, http.StatusCreated)
}

func TestModelPerformanceEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	analytics := NewAnalyticsHandler(db, cfg)
	submissions := NewSubmissionHandler(db, cfg, prolific.NewClient("", ""))

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 10)
	taskID := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")

	// 3 registered participants: 2 prefer A, 1 prefers B
	verdicts := []string{"A", "A", "B"}
	for i, verdict := range verdicts {
		participantID := testutil.CreateTestParticipant(t, db, cfg,
			"EXT-"+string(rune('a'+i)), experimentID, []string{taskID})
		completeEvaluation(t, submissions, taskID, participantID, verdict)
	}

	req := testutil.MakeRequest("GET", "/model-performance", nil, nil)
	w := httptest.NewRecorder()
	analytics.ModelPerformance(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp struct {
		Performance []models.ModelPerformance `json:"performance"`
	}
	testutil.AssertJSON(t, w, &resp)

	x := findPerformance(t, resp.Performance, "model-x", "quality")
	if x.NumEvaluations != 3 {
		t.Errorf("Expected 3 trials, got %d", x.NumEvaluations)
	}
	expected := 2.0 / 3.0
	if diff := x.WinRate - expected; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("Expected win rate %v, got %v", expected, x.WinRate)
	}
}

func TestModelPerformanceExcludesAnonymousByDefault(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	analytics := NewAnalyticsHandler(db, cfg)
	submissions := NewSubmissionHandler(db, cfg, prolific.NewClient("", ""))

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 10)
	taskID := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")

	// One registered verdict for A, one anonymous verdict for B
	participantID := testutil.CreateTestParticipant(t, db, cfg, "EXT-1", experimentID, []string{taskID})
	completeEvaluation(t, submissions, taskID, participantID, "A")

	req := testutil.MakeRequest("POST", "/evaluations", models.SubmitEvaluationRequest{
		TaskID:          taskID,
		SessionID:       "drive-by",
		DimensionScores: map[string]json.RawMessage{"quality": rawScore("B")},
	}, nil)
	w := httptest.NewRecorder()
	submissions.SubmitEvaluation(w, req)
	testutil.AssertStatus(t, w, http.StatusCreated)

	query := func(path string) []models.ModelPerformance {
		req := testutil.MakeRequest("GET", path, nil, nil)
		w := httptest.NewRecorder()
		analytics.ModelPerformance(w, req)
		testutil.AssertStatus(t, w, http.StatusOK)

		var resp struct {
			Performance []models.ModelPerformance `json:"performance"`
		}
		testutil.AssertJSON(t, w, &resp)
		return resp.Performance
	}

	// Default: only the registered verdict counts
	x := findPerformance(t, query("/model-performance"), "model-x", "quality")
	if x.NumEvaluations != 1 || x.WinRate != 1.0 {
		t.Errorf("Expected 1 registered trial with win rate 1.0, got %+v", x)
	}

	// include_anonymous folds the anonymous verdict in
	x = findPerformance(t, query("/model-performance?include_anonymous=true"), "model-x", "quality")
	if x.NumEvaluations != 2 || x.WinRate != 0.5 {
		t.Errorf("Expected 2 trials with win rate 0.5, got %+v", x)
	}
}

func TestModelPerformanceGroupFilter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	analytics := NewAnalyticsHandler(db, cfg)
	submissions := NewSubmissionHandler(db, cfg, prolific.NewClient("", ""))

	navExp, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 10)
	testutil.SetExperimentGroup(t, db, navExp, "navigation")
	navTask := testutil.CreateTestComparisonTask(t, db, navExp, "scenario-1", "model-x", "model-y")

	graspExp, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 10)
	testutil.SetExperimentGroup(t, db, graspExp, "grasping")
	graspTask := testutil.CreateTestComparisonTask(t, db, graspExp, "scenario-2", "model-x", "model-y")

	p1 := testutil.CreateTestParticipant(t, db, cfg, "EXT-1", navExp, []string{navTask})
	completeEvaluation(t, submissions, navTask, p1, "A")
	p2 := testutil.CreateTestParticipant(t, db, cfg, "EXT-2", graspExp, []string{graspTask})
	completeEvaluation(t, submissions, graspTask, p2, "B")

	req := testutil.MakeRequest("GET", "/model-performance?group=navigation", nil, nil)
	w := httptest.NewRecorder()
	analytics.ModelPerformance(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp struct {
		Performance []models.ModelPerformance `json:"performance"`
	}
	testutil.AssertJSON(t, w, &resp)

	x := findPerformance(t, resp.Performance, "model-x", "quality")
	if x.NumEvaluations != 1 || x.WinRate != 1.0 {
		t.Errorf("Expected only the navigation verdict, got %+v", x)
	}
}

func TestModelPerformanceIgnoresArchivedExperiments(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	analytics := NewAnalyticsHandler(db, cfg)
	submissions := NewSubmissionHandler(db, cfg, prolific.NewClient("", ""))

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 10)
	taskID := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")
	participantID := testutil.CreateTestParticipant(t, db, cfg, "EXT-1", experimentID, []string{taskID})
	completeEvaluation(t, submissions, taskID, participantID, "A")

	if _, err := db.Exec(`UPDATE experiment SET archived = TRUE WHERE id = $1`, experimentID); err != nil {
		t.Fatalf("Failed to archive experiment: %v", err)
	}

	req := testutil.MakeRequest("GET", "/model-performance", nil, nil)
	w := httptest.NewRecorder()
	analytics.ModelPerformance(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp struct {
		Performance []models.ModelPerformance `json:"performance"`
	}
	testutil.AssertJSON(t, w, &resp)
	if len(resp.Performance) != 0 {
		t.Errorf("Archived experiments must not feed analytics, got %+v", resp.Performance)
	}
}

func TestComparisonProgressEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	cfg := testutil.GetTestConfig()
	analytics := NewAnalyticsHandler(db, cfg)
	submissions := NewSubmissionHandler(db, cfg, prolific.NewClient("", ""))

	experimentID, _ := testutil.CreateTestExperiment(t, db, cfg, "active", 2)
	task1 := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-1", "model-x", "model-y")
	task2 := testutil.CreateTestComparisonTask(t, db, experimentID, "scenario-2", "model-x", "model-y")

	// task1 gets 3 completions (past its target of 2), task2 gets none.
	// A dangling draft on task2 must not count.
	for i := 0; i < 3; i++ {
		participantID := testutil.CreateTestParticipant(t, db, cfg,
			"EXT-"+string(rune('a'+i)), experimentID, []string{task1})
		completeEvaluation(t, submissions, task1, participantID, "A")
	}
	req := testutil.MakeRequest("POST", "/drafts", models.SaveDraftRequest{
		TaskID:          task2,
		SessionID:       "drafter",
		DimensionScores: map[string]json.RawMessage{"quality": rawScore("A")},
	}, nil)
	w := httptest.NewRecorder()
	submissions.SaveDraft(w, req)
	testutil.AssertStatus(t, w, http.StatusCreated)

	req = testutil.MakeRequest("GET", "/comparison-progress?experiment_id="+experimentID, nil, nil)
	w = httptest.NewRecorder()
	analytics.ComparisonProgress(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp struct {
		Progress []models.ComparisonProgress `json:"progress"`
	}
	testutil.AssertJSON(t, w, &resp)

	if len(resp.Progress) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(resp.Progress))
	}
	if resp.Progress[0].TaskID != task1 || resp.Progress[1].TaskID != task2 {
		t.Errorf("Expected creation order %s, %s; got %s, %s",
			task1, task2, resp.Progress[0].TaskID, resp.Progress[1].TaskID)
	}

	first := resp.Progress[0]
	if first.EvaluationCount != 3 || first.TargetEvaluations != 2 {
		t.Errorf("Expected 3 of 2 evaluations, got %d of %d", first.EvaluationCount, first.TargetEvaluations)
	}
	// Unclamped: 3 completions against a target of 2
	if first.ProgressPercentage != 150 {
		t.Errorf("Expected 150%%, got %d%%", first.ProgressPercentage)
	}
	if first.ModelA != "model-x" || first.ModelB != "model-y" {
		t.Errorf("Expected real model names in admin analytics, got %s / %s", first.ModelA, first.ModelB)
	}

	second := resp.Progress[1]
	if second.EvaluationCount != 0 || second.ProgressPercentage != 0 {
		t.Errorf("Drafts must not count: got %d evaluations, %d%%", second.EvaluationCount, second.ProgressPercentage)
	}
}
