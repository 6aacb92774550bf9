package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-incident-api/internal/models"
)

func timelineAppeal(submitted time.Time) *models.Appeal {
	return &models.Appeal{
		ID:          "a-1",
		SubmittedAt: submitted,
		Deadline:    submitted.Add(OuterDeadlineWindow),
		StageTimestamps: models.StageTimestamps{
			models.StepSubmitted: submitted,
		},
	}
}

func TestOuterDeadline(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appeal := timelineAppeal(submitted)

	require.False(t, IsOverdue(appeal, appeal.Deadline))
	require.True(t, IsOverdue(appeal, appeal.Deadline.Add(time.Second)))

	require.InDelta(t, 240.0, HoursRemaining(appeal, submitted), 0.001)
	require.InDelta(t, -1.0, HoursRemaining(appeal, appeal.Deadline.Add(time.Hour)), 0.001)
}

func TestDeadlineApproachingWindow(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appeal := timelineAppeal(submitted)

	// 25 hours out is still comfortable
	require.False(t, IsDeadlineApproaching(appeal, appeal.Deadline.Add(-25*time.Hour)))
	// inside the final day
	require.True(t, IsDeadlineApproaching(appeal, appeal.Deadline.Add(-23*time.Hour)))
	// past the deadline the appeal is overdue, not approaching
	require.False(t, IsDeadlineApproaching(appeal, appeal.Deadline.Add(time.Hour)))
}

func TestStageHourBudgets(t *testing.T) {
	budget, ok := StageHourBudget(models.StageAdminReview)
	require.True(t, ok)
	require.Equal(t, time.Hour, budget)

	budget, ok = StageHourBudget(models.StagePresidentDecision)
	require.True(t, ok)
	require.Equal(t, 120*time.Hour, budget)

	_, ok = StageHourBudget(models.StageSubmitted)
	require.False(t, ok)
}

func TestStageDeadline(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	appeal := timelineAppeal(submitted)

	// no budget for the submission stage
	_, ok := StageDeadline(appeal, models.StageSubmitted)
	require.False(t, ok)

	// stage not reached yet
	_, ok = StageDeadline(appeal, models.StageAdminReview)
	require.False(t, ok)

	entered := submitted.Add(30 * time.Minute)
	appeal.StageTimestamps.Set(models.StepAdminReview, entered)
	deadline, ok := StageDeadline(appeal, models.StageAdminReview)
	require.True(t, ok)
	require.Equal(t, entered.Add(time.Hour), deadline)

	require.False(t, IsStageOverdue(appeal, models.StageAdminReview, deadline))
	require.True(t, IsStageOverdue(appeal, models.StageAdminReview, deadline.Add(time.Minute)))
}

func TestStageTimestampsWriteOnce(t *testing.T) {
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stamps := models.StageTimestamps{}
	stamps.Set(models.StepAdminReview, first)
	stamps.Set(models.StepAdminReview, first.Add(time.Hour))
	require.Equal(t, first, stamps[models.StepAdminReview])
}
