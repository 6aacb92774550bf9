package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-incident-api/internal/dto"
	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
)

type reportStoreStub struct {
	reports map[string]*models.Report
	filter  models.ReportFilter
	updates []models.ReportStatusUpdate
}

func newReportStoreStub() *reportStoreStub {
	return &reportStoreStub{reports: make(map[string]*models.Report)}
}

func (m *reportStoreStub) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	copy := *report
	m.reports[report.ID] = &copy
	return nil
}

func (m *reportStoreStub) GetByID(ctx context.Context, id string) (*models.Report, error) {
	if r, ok := m.reports[id]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *reportStoreStub) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	m.filter = filter
	result := make([]models.Report, 0, len(m.reports))
	for _, r := range m.reports {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		result = append(result, *r)
	}
	return result, nil
}

func (m *reportStoreStub) UpdateStatus(ctx context.Context, id string, update models.ReportStatusUpdate) error {
	r, ok := m.reports[id]
	if !ok {
		return sql.ErrNoRows
	}
	if update.Status != nil {
		r.Status = *update.Status
	}
	if update.RejectionReason != nil {
		r.RejectionReason = update.RejectionReason
	}
	m.updates = append(m.updates, update)
	return nil
}

func reportTestFixture() (*ReportService, *reportStoreStub, *appealStoreStub, *notifierStub, *auditStub) {
	store := newReportStoreStub()
	appeals := newAppealStoreStub()
	notifier := &notifierStub{}
	audit := &auditStub{}
	svc := NewReportService(store, appeals, notifier, audit, nil, nil)
	return svc, store, appeals, notifier, audit
}

func TestReportServiceCreate(t *testing.T) {
	svc, store, _, _, _ := reportTestFixture()

	report, err := svc.Create(context.Background(), dto.CreateReportRequest{
		Title:       "Broken window in dorm B",
		Description: "Second floor common room, glass on the floor.",
		Category:    "FACILITY",
		Location:    "Dorm B",
	}, "student-1")
	require.NoError(t, err)
	require.Equal(t, models.ReportStatusPending, report.Status)
	require.Equal(t, models.ReportCategoryFacility, report.Category)
	require.Equal(t, "Dorm B", *report.Location)
	require.Contains(t, store.reports, report.ID)

	// unknown category fails validation
	_, err = svc.Create(context.Background(), dto.CreateReportRequest{
		Title:       "x",
		Description: "y",
		Category:    "GOSSIP",
	}, "student-1")
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReportServiceListScopesStudents(t *testing.T) {
	svc, store, _, _, _ := reportTestFixture()
	store.reports["r-1"] = &models.Report{ID: "r-1", UserID: "student-1"}
	store.reports["r-2"] = &models.Report{ID: "r-2", UserID: "student-2"}

	student := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
	list, err := svc.List(context.Background(), dto.ReportQuery{}, student)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "student-1", store.filter.UserID)

	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	list, err = svc.List(context.Background(), dto.ReportQuery{}, admin)
	require.NoError(t, err)
	require.Len(t, list, 2)

	_, err = svc.List(context.Background(), dto.ReportQuery{Status: "bogus"}, admin)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReportServiceModerate(t *testing.T) {
	svc, store, _, notifier, audit := reportTestFixture()
	store.reports["r-1"] = &models.Report{ID: "r-1", UserID: "student-1", Title: "Broken window", Status: models.ReportStatusPending}

	report, err := svc.Moderate(context.Background(), "r-1", "admin-1", dto.ModerateReportRequest{
		Status:          models.ReportStatusRejected,
		RejectionReason: "duplicate of an existing report",
	})
	require.NoError(t, err)
	require.Equal(t, models.ReportStatusRejected, report.Status)
	require.Equal(t, "duplicate of an existing report", *report.RejectionReason)
	require.Contains(t, notifier.sent, "student-1:"+models.NotificationKindReportModerated)
	require.Len(t, audit.logs, 1)
}

func TestReportServiceModerateGuards(t *testing.T) {
	svc, store, _, _, _ := reportTestFixture()

	// rejecting without a reason is refused
	_, err := svc.Moderate(context.Background(), "r-1", "admin-1", dto.ModerateReportRequest{
		Status: models.ReportStatusRejected,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Moderate(context.Background(), "missing", "admin-1", dto.ModerateReportRequest{
		Status: models.ReportStatusApproved,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	// an open appeal freezes moderation
	appealOpen := models.AppealStatusSubmitted
	store.reports["r-1"] = &models.Report{ID: "r-1", UserID: "student-1", Status: models.ReportStatusRejected, AppealStatus: &appealOpen}
	_, err = svc.Moderate(context.Background(), "r-1", "admin-1", dto.ModerateReportRequest{
		Status: models.ReportStatusApproved,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	// once the appeal is decided the report is moderable again
	decided := models.AppealStatusDisapproved
	store.reports["r-1"].AppealStatus = &decided
	_, err = svc.Moderate(context.Background(), "r-1", "admin-1", dto.ModerateReportRequest{
		Status: models.ReportStatusApproved,
	})
	require.NoError(t, err)
}

func TestReportServiceModerateFreezesOnLiveAppeal(t *testing.T) {
	svc, store, appeals, _, _ := reportTestFixture()

	// the appeal exists but the report's appeal_status flag was never
	// written; the live lookup still freezes moderation
	store.reports["r-1"] = &models.Report{ID: "r-1", UserID: "student-1", Status: models.ReportStatusRejected}
	appeals.appeals["a-1"] = &models.Appeal{ID: "a-1", ReportID: "r-1", UserID: "student-1", Status: models.AppealStatusSubmitted, Version: 1}

	_, err := svc.Moderate(context.Background(), "r-1", "admin-1", dto.ModerateReportRequest{
		Status: models.ReportStatusApproved,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	// a completed appeal releases the freeze
	appeals.appeals["a-1"].Status = models.AppealStatusCompleted
	_, err = svc.Moderate(context.Background(), "r-1", "admin-1", dto.ModerateReportRequest{
		Status: models.ReportStatusApproved,
	})
	require.NoError(t, err)
}
