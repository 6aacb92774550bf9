package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-incident-api/internal/models"
)

func newAppealRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func appealRows(appeal *models.Appeal) *sqlmock.Rows {
	stamps, _ := appeal.StageTimestamps.Value()
	return sqlmock.NewRows([]string{
		"id", "report_id", "user_id", "reason", "evidence", "status", "current_stage", "total_stages",
		"submitted_at", "deadline", "stage_timestamps", "assigned_admin", "assigned_dept_head",
		"assigned_president", "admin_notes", "dept_proposal", "president_decision", "final_decision",
		"version", "created_at", "updated_at",
	}).AddRow(
		appeal.ID, appeal.ReportID, appeal.UserID, appeal.Reason, "{}", appeal.Status,
		appeal.CurrentStage, appeal.TotalStages, appeal.SubmittedAt, appeal.Deadline, stamps,
		appeal.AssignedAdmin, appeal.AssignedDeptHead, appeal.AssignedPresident,
		appeal.AdminNotes, appeal.DeptProposal, appeal.PresidentDecision, appeal.FinalDecision,
		appeal.Version, appeal.CreatedAt, appeal.UpdatedAt,
	)
}

func sampleAppeal() *models.Appeal {
	now := time.Now().UTC()
	return &models.Appeal{
		ID:           "appeal-1",
		ReportID:     "report-1",
		UserID:       "student-1",
		Reason:       "the rejection misread the evidence",
		Status:       models.AppealStatusSubmitted,
		CurrentStage: models.StageSubmitted,
		TotalStages:  models.TotalStages,
		SubmittedAt:  now,
		Deadline:     now.Add(240 * time.Hour),
		StageTimestamps: models.StageTimestamps{
			models.StepSubmitted: now,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAppealRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appeals")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	appeal := &models.Appeal{
		ReportID:        "report-1",
		UserID:          "student-1",
		Reason:          "the rejection misread the evidence",
		Status:          models.AppealStatusSubmitted,
		CurrentStage:    models.StageSubmitted,
		StageTimestamps: models.StageTimestamps{models.StepSubmitted: time.Now().UTC()},
	}
	require.NoError(t, repo.Create(context.Background(), appeal))
	require.NotEmpty(t, appeal.ID)
	require.Equal(t, int64(1), appeal.Version)
	require.Equal(t, models.TotalStages, appeal.TotalStages)

	stored := sampleAppeal()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, report_id, user_id")).
		WithArgs(stored.ID).
		WillReturnRows(appealRows(stored))

	found, err := repo.GetByID(context.Background(), stored.ID)
	require.NoError(t, err)
	require.Equal(t, stored.ID, found.ID)
	require.Equal(t, models.AppealStatusSubmitted, found.Status)
	require.Contains(t, found.StageTimestamps, models.StepSubmitted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryFindActiveByReport(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	stored := sampleAppeal()
	mock.ExpectQuery(regexp.QuoteMeta("FROM appeals WHERE report_id = $1 AND status <> $2")).
		WithArgs("report-1", string(models.AppealStatusCompleted)).
		WillReturnRows(appealRows(stored))

	found, err := repo.FindActiveByReport(context.Background(), "report-1")
	require.NoError(t, err)
	require.Equal(t, stored.ID, found.ID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM appeals WHERE report_id = $1 AND status <> $2")).
		WithArgs("report-2", string(models.AppealStatusCompleted)).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindActiveByReport(context.Background(), "report-2")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	stored := sampleAppeal()
	mock.ExpectQuery(regexp.QuoteMeta("user_id = $1 AND status IN ($2,$3)")).
		WithArgs("student-1", string(models.AppealStatusSubmitted), string(models.AppealStatusWithDepartment)).
		WillReturnRows(appealRows(stored))

	list, err := repo.List(context.Background(), models.AppealFilter{
		UserID:   "student-1",
		Statuses: []models.AppealStatus{models.AppealStatusSubmitted, models.AppealStatusWithDepartment},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, stored.ID, list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryAppendEvidence(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	appeal := sampleAppeal()
	appeal.Evidence = append(appeal.Evidence, "appeal-1/photo.jpg")

	// the write must carry the evidence column
	mock.ExpectExec(`UPDATE appeals SET\s+evidence = `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AppendEvidence(context.Background(), appeal))
	require.Equal(t, int64(2), appeal.Version)

	mock.ExpectExec(`UPDATE appeals SET\s+evidence = `).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.AppendEvidence(context.Background(), appeal)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.Equal(t, int64(2), appeal.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryUpdateTransition(t *testing.T) {
	db, mock, cleanup := newAppealRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	appeal := sampleAppeal()
	appeal.Status = models.AppealStatusUnderAdminReview
	appeal.CurrentStage = models.StageAdminReview

	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateTransition(context.Background(), appeal))
	require.Equal(t, int64(2), appeal.Version)

	// a stale version touches no rows
	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateTransition(context.Background(), appeal)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.Equal(t, int64(2), appeal.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}
