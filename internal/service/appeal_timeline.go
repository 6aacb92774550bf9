package service

import (
	"time"

	"github.com/noah-isme/campus-incident-api/internal/models"
)

// Per-stage SLA budgets. These are advisory: an overdue stage stays where it
// is until a reviewer or a monitoring job acts.
var stageHourBudgets = map[int]time.Duration{
	models.StageAdminReview:       1 * time.Hour,
	models.StageDocumented:        1 * time.Hour,
	models.StageWithDepartment:    24 * time.Hour,
	models.StageDeptReview:        72 * time.Hour,
	models.StagePresidentDecision: 120 * time.Hour,
	models.StageCompleted:         24 * time.Hour,
}

// OuterDeadlineWindow is the fixed bound from submission within which the
// whole appeal process is expected to complete.
const OuterDeadlineWindow = 10 * 24 * time.Hour

// deadlineApproachingWindow flags appeals entering their last day.
const deadlineApproachingWindow = 24 * time.Hour

// StageHourBudget returns the SLA budget for a stage, if one exists.
func StageHourBudget(stage int) (time.Duration, bool) {
	budget, ok := stageHourBudgets[stage]
	return budget, ok
}

// StageDeadline derives the deadline for a stage from the timestamp the
// appeal entered it. The second return is false when the stage has no budget
// or the appeal never reached it.
func StageDeadline(appeal *models.Appeal, stage int) (time.Time, bool) {
	budget, ok := stageHourBudgets[stage]
	if !ok {
		return time.Time{}, false
	}
	key, ok := models.StepKeyForStage(stage)
	if !ok {
		return time.Time{}, false
	}
	entered, ok := appeal.StageTimestamps[key]
	if !ok {
		return time.Time{}, false
	}
	return entered.Add(budget), true
}

// IsOverdue reports whether the outer 10-day deadline has passed.
func IsOverdue(appeal *models.Appeal, now time.Time) bool {
	return now.After(appeal.Deadline)
}

// IsStageOverdue reports whether the stage SLA has elapsed.
func IsStageOverdue(appeal *models.Appeal, stage int, now time.Time) bool {
	deadline, ok := StageDeadline(appeal, stage)
	if !ok {
		return false
	}
	return now.After(deadline)
}

// HoursRemaining returns the hours left until the outer deadline; negative
// once overdue.
func HoursRemaining(appeal *models.Appeal, now time.Time) float64 {
	return appeal.Deadline.Sub(now).Hours()
}

// IsDeadlineApproaching reports whether the appeal is inside its final
// 24-hour window. Once the deadline has passed this returns false; use
// IsOverdue for that.
func IsDeadlineApproaching(appeal *models.Appeal, now time.Time) bool {
	remaining := appeal.Deadline.Sub(now)
	return remaining > 0 && remaining < deadlineApproachingWindow
}
