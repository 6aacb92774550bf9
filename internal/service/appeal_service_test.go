package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-incident-api/internal/dto"
	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
)

type appealStoreStub struct {
	appeals   map[string]*models.Appeal
	filter    models.AppealFilter
	conflicts int
}

func newAppealStoreStub() *appealStoreStub {
	return &appealStoreStub{appeals: make(map[string]*models.Appeal)}
}

func (m *appealStoreStub) Create(ctx context.Context, appeal *models.Appeal) error {
	if appeal.ID == "" {
		appeal.ID = uuid.NewString()
	}
	appeal.Version = 1
	copy := *appeal
	copy.StageTimestamps = cloneStamps(appeal.StageTimestamps)
	m.appeals[appeal.ID] = &copy
	return nil
}

func (m *appealStoreStub) GetByID(ctx context.Context, id string) (*models.Appeal, error) {
	if a, ok := m.appeals[id]; ok {
		copy := *a
		copy.StageTimestamps = cloneStamps(a.StageTimestamps)
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *appealStoreStub) FindActiveByReport(ctx context.Context, reportID string) (*models.Appeal, error) {
	for _, a := range m.appeals {
		if a.ReportID == reportID && a.Active() {
			copy := *a
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *appealStoreStub) List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error) {
	m.filter = filter
	result := make([]models.Appeal, 0, len(m.appeals))
	for _, a := range m.appeals {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		result = append(result, *a)
	}
	return result, nil
}

func (m *appealStoreStub) UpdateTransition(ctx context.Context, appeal *models.Appeal) error {
	if m.conflicts > 0 {
		m.conflicts--
		return sql.ErrNoRows
	}
	stored, ok := m.appeals[appeal.ID]
	if !ok || stored.Version != appeal.Version {
		return sql.ErrNoRows
	}
	copy := *appeal
	copy.Version = appeal.Version + 1
	copy.StageTimestamps = cloneStamps(appeal.StageTimestamps)
	m.appeals[appeal.ID] = &copy
	appeal.Version = copy.Version
	return nil
}

func cloneStamps(st models.StageTimestamps) models.StageTimestamps {
	out := make(models.StageTimestamps, len(st))
	for k, v := range st {
		out[k] = v
	}
	return out
}

type reportGatewayStub struct {
	reports  map[string]*models.Report
	updates  []models.ReportStatusUpdate
	failures int
}

func newReportGatewayStub() *reportGatewayStub {
	return &reportGatewayStub{reports: make(map[string]*models.Report)}
}

func (m *reportGatewayStub) GetByID(ctx context.Context, id string) (*models.Report, error) {
	if r, ok := m.reports[id]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *reportGatewayStub) UpdateStatus(ctx context.Context, id string, update models.ReportStatusUpdate) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("gateway down")
	}
	r, ok := m.reports[id]
	if !ok {
		return sql.ErrNoRows
	}
	if update.Status != nil {
		r.Status = *update.Status
	}
	if update.AppealStatus != nil {
		r.AppealStatus = update.AppealStatus
	}
	if update.RestoredByAppeal != nil {
		r.RestoredByAppeal = *update.RestoredByAppeal
	}
	m.updates = append(m.updates, update)
	return nil
}

type directoryStub struct {
	byRole map[models.UserRole][]string
}

func (d *directoryStub) UsersWithRole(ctx context.Context, role models.UserRole) ([]string, error) {
	return d.byRole[role], nil
}

type notifierStub struct {
	sent []string
}

func (n *notifierStub) Notify(ctx context.Context, userID, kind, title, body string, meta models.NotificationMeta) error {
	n.sent = append(n.sent, userID+":"+kind)
	return nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func appealTestFixture() (*AppealService, *appealStoreStub, *reportGatewayStub, *notifierStub, *auditStub) {
	store := newAppealStoreStub()
	gateway := newReportGatewayStub()
	notifier := &notifierStub{}
	audit := &auditStub{}
	directory := &directoryStub{byRole: map[models.UserRole][]string{
		models.RoleAdmin:    {"admin-1"},
		models.RoleDeptHead: {"dept-1"},
	}}
	svc := NewAppealService(store, gateway, directory, notifier, nil, audit, nil, nil,
		WithGatewayRetry(1, time.Millisecond))
	return svc, store, gateway, notifier, audit
}

func rejectedReport(id, owner string) *models.Report {
	reason := "insufficient detail"
	return &models.Report{
		ID:              id,
		UserID:          owner,
		Title:           "Broken window in dorm B",
		Status:          models.ReportStatusRejected,
		RejectionReason: &reason,
	}
}

func validReason() string {
	return strings.Repeat("the rejection misread the evidence ", 3)
}

func TestAppealServiceSubmit(t *testing.T) {
	svc, _, gateway, notifier, audit := appealTestFixture()
	gateway.reports["report-1"] = rejectedReport("report-1", "student-1")

	appeal, err := svc.Submit(context.Background(), dto.SubmitAppealRequest{
		ReportID: "report-1",
		Reason:   validReason(),
	}, "student-1")
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusSubmitted, appeal.Status)
	require.Equal(t, models.StageSubmitted, appeal.CurrentStage)
	require.Equal(t, models.TotalStages, appeal.TotalStages)
	require.Contains(t, appeal.StageTimestamps, models.StepSubmitted)
	require.Equal(t, appeal.SubmittedAt.Add(OuterDeadlineWindow), appeal.Deadline)

	require.Len(t, gateway.updates, 1)
	require.Equal(t, models.AppealStatusSubmitted, *gateway.updates[0].AppealStatus)
	require.Contains(t, notifier.sent, "student-1:"+models.NotificationKindAppealSubmitted)
	require.Contains(t, notifier.sent, "admin-1:"+models.NotificationKindAppealSubmitted)
	require.Len(t, audit.logs, 1)
}

func TestAppealServiceSubmitGuards(t *testing.T) {
	svc, store, gateway, _, _ := appealTestFixture()
	gateway.reports["report-1"] = rejectedReport("report-1", "student-1")

	// unknown report
	_, err := svc.Submit(context.Background(), dto.SubmitAppealRequest{ReportID: "missing", Reason: validReason()}, "student-1")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	// not the owner
	_, err = svc.Submit(context.Background(), dto.SubmitAppealRequest{ReportID: "report-1", Reason: validReason()}, "student-2")
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	// report not rejected
	gateway.reports["report-2"] = &models.Report{ID: "report-2", UserID: "student-1", Status: models.ReportStatusPending}
	_, err = svc.Submit(context.Background(), dto.SubmitAppealRequest{ReportID: "report-2", Reason: validReason()}, "student-1")
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	// appeal slot already taken
	store.appeals["a-1"] = &models.Appeal{ID: "a-1", ReportID: "report-1", UserID: "student-1", Status: models.AppealStatusSubmitted, Version: 1}
	_, err = svc.Submit(context.Background(), dto.SubmitAppealRequest{ReportID: "report-1", Reason: validReason()}, "student-1")
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))

	// a disapproved appeal blocks resubmission for good
	delete(store.appeals, "a-1")
	disapproved := models.AppealStatusDisapproved
	gateway.reports["report-1"].AppealStatus = &disapproved
	_, err = svc.Submit(context.Background(), dto.SubmitAppealRequest{ReportID: "report-1", Reason: validReason()}, "student-1")
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func submittedAppeal(t *testing.T, svc *AppealService, gateway *reportGatewayStub) *models.Appeal {
	t.Helper()
	gateway.reports["report-1"] = rejectedReport("report-1", "student-1")
	appeal, err := svc.Submit(context.Background(), dto.SubmitAppealRequest{
		ReportID: "report-1",
		Reason:   validReason(),
	}, "student-1")
	require.NoError(t, err)
	return appeal
}

func TestAppealServiceAdminReviewForwardChainsToDepartment(t *testing.T) {
	svc, store, gateway, notifier, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)

	result, err := svc.AdminReview(context.Background(), appeal.ID, "admin-1", dto.AdminReviewRequest{
		Action: AdminActionForward,
		Notes:  "looks plausible",
	})
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusWithDepartment, result.Status)
	require.Equal(t, models.StageWithDepartment, result.CurrentStage)
	require.Contains(t, result.StageTimestamps, models.StepAdminReview)
	require.Contains(t, result.StageTimestamps, models.StepDocumented)
	require.Contains(t, result.StageTimestamps, models.StepForwardedToDept)
	require.Equal(t, "admin-1", *result.AssignedAdmin)

	// every clerical stage got its own durable write
	require.Equal(t, int64(4), store.appeals[appeal.ID].Version)
	require.Contains(t, notifier.sent, "dept-1:"+models.NotificationKindAppealForwarded)
}

func TestAppealServiceAdminReviewHold(t *testing.T) {
	svc, _, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)

	result, err := svc.AdminReview(context.Background(), appeal.ID, "admin-1", dto.AdminReviewRequest{Action: AdminActionHold})
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusUnderAdminReview, result.Status)
	require.Equal(t, models.StageAdminReview, result.CurrentStage)

	// a second review on a held appeal is rejected
	_, err = svc.AdminReview(context.Background(), appeal.ID, "admin-1", dto.AdminReviewRequest{Action: AdminActionForward})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestAppealServiceDepartmentReviewForwardsToPresident(t *testing.T) {
	svc, _, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)
	_, err := svc.AdminReview(context.Background(), appeal.ID, "admin-1", dto.AdminReviewRequest{Action: AdminActionForward})
	require.NoError(t, err)

	result, err := svc.DepartmentReview(context.Background(), appeal.ID, "dept-1", dto.DepartmentReviewRequest{
		Proposal: "recommend approval",
	})
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusWithPresident, result.Status)
	require.Equal(t, models.StagePresidentDecision, result.CurrentStage)
	require.Equal(t, "recommend approval", *result.DeptProposal)
	require.Contains(t, result.StageTimestamps, models.StepDeptReview)
}

func TestAppealServiceDepartmentReviewWrongState(t *testing.T) {
	svc, _, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)

	_, err := svc.DepartmentReview(context.Background(), appeal.ID, "dept-1", dto.DepartmentReviewRequest{Proposal: "x"})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func decideAppeal(t *testing.T, svc *AppealService, gateway *reportGatewayStub) *models.Appeal {
	t.Helper()
	appeal := submittedAppeal(t, svc, gateway)
	_, err := svc.AdminReview(context.Background(), appeal.ID, "admin-1", dto.AdminReviewRequest{Action: AdminActionForward})
	require.NoError(t, err)
	_, err = svc.DepartmentReview(context.Background(), appeal.ID, "dept-1", dto.DepartmentReviewRequest{Proposal: "recommend approval"})
	require.NoError(t, err)
	return appeal
}

func TestAppealServicePresidentApproveRestoresReport(t *testing.T) {
	svc, _, gateway, notifier, _ := appealTestFixture()
	appeal := decideAppeal(t, svc, gateway)

	result, err := svc.PresidentDecision(context.Background(), appeal.ID, "president-1", dto.PresidentDecisionRequest{
		Decision:  DecisionApprove,
		Reasoning: "evidence supports the appellant",
	})
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusCompleted, result.Status)
	require.Equal(t, models.StageCompleted, result.CurrentStage)
	require.Contains(t, result.StageTimestamps, models.StepPresidentDecision)
	require.Contains(t, result.StageTimestamps, models.StepProcessed)
	require.Contains(t, result.StageTimestamps, models.StepCompleted)
	require.Equal(t, "evidence supports the appellant", *result.FinalDecision)

	report := gateway.reports["report-1"]
	require.Equal(t, models.ReportStatusPending, report.Status)
	require.True(t, report.RestoredByAppeal)
	require.Equal(t, models.AppealStatusApproved, *report.AppealStatus)
	require.Contains(t, notifier.sent, "student-1:"+models.NotificationKindAppealApproved)
}

func TestAppealServicePresidentDisapproveLeavesReportRejected(t *testing.T) {
	svc, _, gateway, notifier, _ := appealTestFixture()
	appeal := decideAppeal(t, svc, gateway)

	result, err := svc.PresidentDecision(context.Background(), appeal.ID, "president-1", dto.PresidentDecisionRequest{
		Decision:  DecisionDisapprove,
		Reasoning: "rejection stands",
	})
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusCompleted, result.Status)

	report := gateway.reports["report-1"]
	require.Equal(t, models.ReportStatusRejected, report.Status)
	require.False(t, report.RestoredByAppeal)
	require.Equal(t, models.AppealStatusDisapproved, *report.AppealStatus)
	require.Contains(t, notifier.sent, "student-1:"+models.NotificationKindAppealDisapproved)
}

func TestAppealServiceGatewayFailureKeepsAppealResumable(t *testing.T) {
	svc, store, gateway, _, _ := appealTestFixture()
	appeal := decideAppeal(t, svc, gateway)

	gateway.failures = 10
	_, err := svc.PresidentDecision(context.Background(), appeal.ID, "president-1", dto.PresidentDecisionRequest{
		Decision:  DecisionApprove,
		Reasoning: "evidence supports the appellant",
	})
	require.True(t, appErrors.Is(err, appErrors.ErrUnavailable))

	// the decision itself committed, only the final step is pending
	stored := store.appeals[appeal.ID]
	require.Equal(t, models.AppealStatusApproved, stored.Status)
	require.Equal(t, models.StagePresidentDecision, stored.CurrentStage)

	gateway.failures = 0
	result, err := svc.Complete(context.Background(), appeal.ID)
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusCompleted, result.Status)
	require.Equal(t, models.ReportStatusPending, gateway.reports["report-1"].Status)

	// completing again is a no-op
	again, err := svc.Complete(context.Background(), appeal.ID)
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusCompleted, again.Status)
}

func TestAppealServiceCompleteRequiresDecision(t *testing.T) {
	svc, _, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)

	_, err := svc.Complete(context.Background(), appeal.ID)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestAppealServiceConcurrentReviewConflicts(t *testing.T) {
	svc, store, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)

	// a concurrent writer wins the version race on every attempt
	store.conflicts = 1
	_, err := svc.AdminReview(context.Background(), appeal.ID, "admin-1", dto.AdminReviewRequest{Action: AdminActionHold})
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestAppealServiceAdvanceResumesAfterConflict(t *testing.T) {
	svc, store, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)
	_, err := svc.AdminReview(context.Background(), appeal.ID, "admin-1", dto.AdminReviewRequest{Action: AdminActionHold})
	require.NoError(t, err)

	// the clerical chain re-reads and retries when a write loses the race
	store.conflicts = 1
	result, err := svc.Document(context.Background(), appeal.ID)
	require.NoError(t, err)
	require.Equal(t, models.AppealStatusWithDepartment, result.Status)
	require.Equal(t, models.StageWithDepartment, result.CurrentStage)
}

func TestAppealServiceGetScopesStudents(t *testing.T) {
	svc, _, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)

	owner := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
	_, err := svc.Get(context.Background(), appeal.ID, owner)
	require.NoError(t, err)

	stranger := &models.JWTClaims{UserID: "student-2", Role: models.RoleStudent}
	_, err = svc.Get(context.Background(), appeal.ID, stranger)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err = svc.Get(context.Background(), appeal.ID, admin)
	require.NoError(t, err)
}

func TestAppealServiceTimeline(t *testing.T) {
	svc, store, gateway, _, _ := appealTestFixture()
	appeal := submittedAppeal(t, svc, gateway)

	// push the appeal past its outer deadline
	stored := store.appeals[appeal.ID]
	stored.Deadline = time.Now().UTC().Add(-time.Hour)

	owner := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
	timeline, err := svc.Timeline(context.Background(), appeal.ID, owner)
	require.NoError(t, err)
	require.True(t, timeline.Overdue)
	require.False(t, timeline.DeadlineApproaching)
	require.Negative(t, timeline.HoursRemaining)
	require.Len(t, timeline.Stages, 7)
	require.NotNil(t, timeline.Stages[0].EnteredAt)
}
