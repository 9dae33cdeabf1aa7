// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package prolific

import (
	"strings"

	"github.com/danielhkuo/worldeval/models"
)

// statusTable maps every Prolific study status into the local experiment
// vocabulary. Unknown statuses fall through to draft, the lowest rank, so
// the monotonic upgrade rule stays total.
var statusTable = map[string]string{
	"UNPUBLISHED":     models.ExperimentDraft,
	"SCHEDULED":       models.ExperimentReady,
	"PUBLISHING":      models.ExperimentActive,
	"ACTIVE":          models.ExperimentActive,
	"PAUSED":          models.ExperimentPaused,
	"AWAITING_REVIEW": models.ExperimentCompleted,
	"AWAITING REVIEW": models.ExperimentCompleted,
	"COMPLETED":       models.ExperimentCompleted,
}

// statusRank orders local statuses for the monotonic-upgrade rule.
// active and paused share a rank: a paused study has been live.
var statusRank = map[string]int{
	models.ExperimentDraft:     0,
	models.ExperimentReady:     1,
	models.ExperimentActive:    2,
	models.ExperimentPaused:    2,
	models.ExperimentCompleted: 3,
}

// MapStudyStatus translates a Prolific study status into the local
// experiment status vocabulary.
func MapStudyStatus(external string) string {
	key := strings.ToUpper(strings.TrimSpace(external))
	if local, ok := statusTable[key]; ok {
		return local
	}
	return models.ExperimentDraft
}

// StatusRank returns the ordering rank of a local experiment status.
// Unknown statuses rank lowest.
func StatusRank(status string) int {
	return statusRank[status]
}

// Reconcile applies the externally reported status to the local one.
// The local status is replaced only when the external rank is strictly
// greater - local status never regresses.
func Reconcile(local, external string) (string, bool) {
	mapped := MapStudyStatus(external)
	if StatusRank(mapped) > StatusRank(local) {
		return mapped, true
	}
	return local, false
}
