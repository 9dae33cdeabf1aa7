// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/danielhkuo/worldeval/models"
)

func verdictEval(modelA, modelB string, verdicts map[string]string) ComparisonVerdicts {
	return ComparisonVerdicts{ModelA: modelA, ModelB: modelB, Verdicts: verdicts}
}

func findPerformance(t *testing.T, results []models.ModelPerformance, model, dimension string) models.ModelPerformance {
	t.Helper()
	for _, r := range results {
		if r.Model == model && r.Dimension == dimension {
			return r
		}
	}
	t.Fatalf("No result for model %s dimension %s", model, dimension)
	return models.ModelPerformance{}
}

func TestComputeModelPerformanceWinRates(t *testing.T) {
	// 10 comparisons on one dimension: model-x wins 6, model-y wins 4
	var evals []ComparisonVerdicts
	for i := 0; i < 6; i++ {
		evals = append(evals, verdictEval("model-x", "model-y", map[string]string{"quality": "A"}))
	}
	for i := 0; i < 4; i++ {
		evals = append(evals, verdictEval("model-x", "model-y", map[string]string{"quality": "B"}))
	}

	results := ComputeModelPerformance(evals)

	x := findPerformance(t, results, "model-x", "quality")
	if x.WinRate != 0.6 {
		t.Errorf("Expected model-x win rate 0.6, got %v", x.WinRate)
	}
	if x.NumEvaluations != 10 {
		t.Errorf("Expected 10 trials for model-x, got %d", x.NumEvaluations)
	}

	y := findPerformance(t, results, "model-y", "quality")
	if y.WinRate != 0.4 {
		t.Errorf("Expected model-y win rate 0.4, got %v", y.WinRate)
	}

	// Win rates of the two sides of the same comparisons sum to 1
	if x.WinRate+y.WinRate != 1.0 {
		t.Errorf("Expected win rates to sum to 1, got %v", x.WinRate+y.WinRate)
	}
}

func TestComputeModelPerformanceEqualVerdicts(t *testing.T) {
	// 5 A wins, 4 B wins, 1 Equal: the tie adds 0.5 to each side
	var evals []ComparisonVerdicts
	for i := 0; i < 5; i++ {
		evals = append(evals, verdictEval("model-x", "model-y", map[string]string{"quality": "A"}))
	}
	for i := 0; i < 4; i++ {
		evals = append(evals, verdictEval("model-x", "model-y", map[string]string{"quality": "B"}))
	}
	evals = append(evals, verdictEval("model-x", "model-y", map[string]string{"quality": "Equal"}))

	results := ComputeModelPerformance(evals)

	x := findPerformance(t, results, "model-x", "quality")
	if x.WinRate != 0.55 {
		t.Errorf("Expected model-x win rate 0.55, got %v", x.WinRate)
	}
	y := findPerformance(t, results, "model-y", "quality")
	if y.WinRate != 0.45 {
		t.Errorf("Expected model-y win rate 0.45, got %v", y.WinRate)
	}
}

func TestComputeModelPerformanceStandardError(t *testing.T) {
	// 2 trials, one win and one loss: mean 0.5, population variance 0.25,
	// standard error sqrt(0.25/2)
	evals := []ComparisonVerdicts{
		verdictEval("model-x", "model-y", map[string]string{"quality": "A"}),
		verdictEval("model-x", "model-y", map[string]string{"quality": "B"}),
	}

	results := ComputeModelPerformance(evals)

	x := findPerformance(t, results, "model-x", "quality")
	expected := math.Sqrt(0.25 / 2)
	if math.Abs(x.StandardError-expected) > 1e-12 {
		t.Errorf("Expected standard error %v, got %v", expected, x.StandardError)
	}
}

func TestComputeModelPerformanceUnanimousHasZeroError(t *testing.T) {
	evals := []ComparisonVerdicts{
		verdictEval("model-x", "model-y", map[string]string{"quality": "A"}),
		verdictEval("model-x", "model-y", map[string]string{"quality": "A"}),
		verdictEval("model-x", "model-y", map[string]string{"quality": "A"}),
	}

	results := ComputeModelPerformance(evals)

	x := findPerformance(t, results, "model-x", "quality")
	if x.WinRate != 1.0 {
		t.Errorf("Expected win rate 1.0, got %v", x.WinRate)
	}
	if x.StandardError != 0 {
		t.Errorf("Expected zero standard error for unanimous verdicts, got %v", x.StandardError)
	}
}

func TestComputeModelPerformanceOmitsZeroTrialDimensions(t *testing.T) {
	// model-z never appears in any comparison: no row for it at all
	evals := []ComparisonVerdicts{
		verdictEval("model-x", "model-y", map[string]string{"quality": "A"}),
	}

	results := ComputeModelPerformance(evals)

	for _, r := range results {
		if r.Model == "model-z" {
			t.Errorf("Unexpected result for model with no trials: %+v", r)
		}
		if r.NumEvaluations == 0 {
			t.Errorf("Result with zero trials should be omitted: %+v", r)
		}
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
}

func TestComputeModelPerformanceMultipleDimensions(t *testing.T) {
	evals := []ComparisonVerdicts{
		verdictEval("model-x", "model-y", map[string]string{"quality": "A", "realism": "B"}),
		verdictEval("model-x", "model-y", map[string]string{"quality": "A", "realism": "Equal"}),
	}

	results := ComputeModelPerformance(evals)

	if len(results) != 4 {
		t.Fatalf("Expected 4 (model, dimension) rows, got %d", len(results))
	}

	quality := findPerformance(t, results, "model-x", "quality")
	if quality.WinRate != 1.0 {
		t.Errorf("Expected quality win rate 1.0, got %v", quality.WinRate)
	}
	realism := findPerformance(t, results, "model-x", "realism")
	if realism.WinRate != 0.25 {
		t.Errorf("Expected realism win rate 0.25, got %v", realism.WinRate)
	}
}

func TestComputeModelPerformanceEmptyInput(t *testing.T) {
	results := ComputeModelPerformance(nil)
	if len(results) != 0 {
		t.Errorf("Expected no results for empty input, got %d", len(results))
	}
}

func TestChooseModel(t *testing.T) {
	raw := func(verdict string) json.RawMessage {
		b, _ := json.Marshal(verdict)
		return b
	}

	tests := []struct {
		name     string
		scores   map[string]json.RawMessage
		expected string
	}{
		{
			name:     "majority A",
			scores:   map[string]json.RawMessage{"q1": raw("A"), "q2": raw("A"), "q3": raw("B")},
			expected: "model-x",
		},
		{
			name:     "majority B",
			scores:   map[string]json.RawMessage{"q1": raw("B"), "q2": raw("A"), "q3": raw("B")},
			expected: "model-y",
		},
		{
			name:     "tie is Equal",
			scores:   map[string]json.RawMessage{"q1": raw("A"), "q2": raw("B")},
			expected: "Equal",
		},
		{
			name:     "all Equal verdicts",
			scores:   map[string]json.RawMessage{"q1": raw("Equal"), "q2": raw("Equal")},
			expected: "Equal",
		},
		{
			name:     "Equal verdicts don't break majority",
			scores:   map[string]json.RawMessage{"q1": raw("A"), "q2": raw("Equal"), "q3": raw("Equal")},
			expected: "model-x",
		},
		{
			name:     "empty scores",
			scores:   map[string]json.RawMessage{},
			expected: "Equal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChooseModel(tt.scores, "model-x", "model-y")
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestProgressPercentage(t *testing.T) {
	tests := []struct {
		completed int
		target    int
		expected  int
	}{
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
		{12, 10, 120}, // past the target is reported, not clamped
		{1, 3, 33},
		{2, 3, 67},
		{5, 0, 0}, // no target means no percentage
		{5, -1, 0},
	}

	for _, tt := range tests {
		got := progressPercentage(tt.completed, tt.target)
		if got != tt.expected {
			t.Errorf("progressPercentage(%d, %d) = %d, expected %d", tt.completed, tt.target, got, tt.expected)
		}
	}
}
