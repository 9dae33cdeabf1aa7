// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package prolific

import (
	"testing"

	"github.com/danielhkuo/worldeval/models"
)

func TestMapStudyStatus(t *testing.T) {
	testCases := []struct {
		external string
		expected string
	}{
		{"UNPUBLISHED", models.ExperimentDraft},
		{"SCHEDULED", models.ExperimentReady},
		{"ACTIVE", models.ExperimentActive},
		{"PUBLISHING", models.ExperimentActive},
		{"PAUSED", models.ExperimentPaused},
		{"AWAITING_REVIEW", models.ExperimentCompleted},
		{"AWAITING REVIEW", models.ExperimentCompleted},
		{"COMPLETED", models.ExperimentCompleted},
		{"active", models.ExperimentActive},   // case insensitive
		{" COMPLETED ", models.ExperimentCompleted}, // whitespace tolerated
		{"SOME_FUTURE_STATUS", models.ExperimentDraft}, // unknown ranks lowest
		{"", models.ExperimentDraft},
	}

	for _, tc := range testCases {
		if got := MapStudyStatus(tc.external); got != tc.expected {
			t.Errorf("MapStudyStatus(%q) = %q, want %q", tc.external, got, tc.expected)
		}
	}
}

func TestStatusRankOrdering(t *testing.T) {
	if StatusRank(models.ExperimentDraft) >= StatusRank(models.ExperimentReady) {
		t.Error("draft should rank below ready")
	}
	if StatusRank(models.ExperimentReady) >= StatusRank(models.ExperimentActive) {
		t.Error("ready should rank below active")
	}
	if StatusRank(models.ExperimentActive) != StatusRank(models.ExperimentPaused) {
		t.Error("active and paused should share a rank")
	}
	if StatusRank(models.ExperimentActive) >= StatusRank(models.ExperimentCompleted) {
		t.Error("active should rank below completed")
	}
	if StatusRank("bogus") != 0 {
		t.Error("unknown status should rank lowest")
	}
}

func TestReconcile(t *testing.T) {
	testCases := []struct {
		name        string
		local       string
		external    string
		wantStatus  string
		wantChanged bool
	}{
		{"ready upgraded by COMPLETED", models.ExperimentReady, "COMPLETED", models.ExperimentCompleted, true},
		{"active not regressed by DRAFT", models.ExperimentActive, "UNPUBLISHED", models.ExperimentActive, false},
		{"draft upgraded to active", models.ExperimentDraft, "ACTIVE", models.ExperimentActive, true},
		{"active not changed by PAUSED", models.ExperimentActive, "PAUSED", models.ExperimentActive, false},
		{"ready upgraded to paused", models.ExperimentReady, "PAUSED", models.ExperimentPaused, true},
		{"completed never changes", models.ExperimentCompleted, "ACTIVE", models.ExperimentCompleted, false},
		{"same rank is a no-op", models.ExperimentActive, "ACTIVE", models.ExperimentActive, false},
		{"unknown external never upgrades", models.ExperimentReady, "MYSTERY", models.ExperimentReady, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := Reconcile(tc.local, tc.external)
			if got != tc.wantStatus || changed != tc.wantChanged {
				t.Errorf("Reconcile(%q, %q) = (%q, %v), want (%q, %v)",
					tc.local, tc.external, got, changed, tc.wantStatus, tc.wantChanged)
			}
		})
	}
}
