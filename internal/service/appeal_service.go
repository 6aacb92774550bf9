package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-incident-api/internal/dto"
	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
)

// Admin review actions.
const (
	AdminActionForward = "forward"
	AdminActionHold    = "hold"
)

// President decisions.
const (
	DecisionApprove    = "approve"
	DecisionDisapprove = "disapprove"
)

type appealStore interface {
	Create(ctx context.Context, appeal *models.Appeal) error
	GetByID(ctx context.Context, id string) (*models.Appeal, error)
	FindActiveByReport(ctx context.Context, reportID string) (*models.Appeal, error)
	List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error)
	UpdateTransition(ctx context.Context, appeal *models.Appeal) error
}

type reportGateway interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	UpdateStatus(ctx context.Context, id string, update models.ReportStatusUpdate) error
}

type roleDirectory interface {
	UsersWithRole(ctx context.Context, role models.UserRole) ([]string, error)
}

type appealNotifier interface {
	Notify(ctx context.Context, userID, kind, title, body string, meta models.NotificationMeta) error
}

type appealPublisher interface {
	Publish(ctx context.Context, appeal *models.Appeal)
	Subscribe(ctx context.Context, statuses []models.AppealStatus) (<-chan models.Appeal, func())
}

type transitionRecorder interface {
	RecordAppealTransition(status models.AppealStatus, stage int)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AppealService is the appeal workflow engine: it validates preconditions,
// advances workflow state, and triggers notification and report-gateway side
// effects for each committed transition.
type AppealService struct {
	store     appealStore
	reports   reportGateway
	directory roleDirectory
	notifier  appealNotifier
	feed      appealPublisher
	audit     auditLogger
	metrics   transitionRecorder
	validator *validator.Validate
	logger    *zap.Logger

	gatewayRetries int
	gatewayBackoff time.Duration
	outerDeadline  time.Duration
}

// AppealServiceOption configures the service.
type AppealServiceOption func(*AppealService)

// WithGatewayRetry tunes the report-gateway retry policy used on decisions.
func WithGatewayRetry(retries int, backoff time.Duration) AppealServiceOption {
	return func(s *AppealService) {
		if retries > 0 {
			s.gatewayRetries = retries
		}
		if backoff > 0 {
			s.gatewayBackoff = backoff
		}
	}
}

// WithOuterDeadline overrides the 10-day submission deadline window.
func WithOuterDeadline(window time.Duration) AppealServiceOption {
	return func(s *AppealService) {
		if window > 0 {
			s.outerDeadline = window
		}
	}
}

// WithTransitionRecorder attaches workflow metrics.
func WithTransitionRecorder(recorder transitionRecorder) AppealServiceOption {
	return func(s *AppealService) {
		s.metrics = recorder
	}
}

// NewAppealService constructs the workflow engine.
func NewAppealService(
	store appealStore,
	reports reportGateway,
	directory roleDirectory,
	notifier appealNotifier,
	feed appealPublisher,
	audit auditLogger,
	validate *validator.Validate,
	logger *zap.Logger,
	opts ...AppealServiceOption,
) *AppealService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AppealService{
		store:          store,
		reports:        reports,
		directory:      directory,
		notifier:       notifier,
		feed:           feed,
		audit:          audit,
		validator:      validate,
		logger:         logger,
		gatewayRetries: 3,
		gatewayBackoff: 500 * time.Millisecond,
		outerDeadline:  OuterDeadlineWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit opens an appeal against a rejected report. The caller must own the
// report, the report must currently be rejected, and no other appeal may
// occupy the report's appeal slot.
func (s *AppealService) Submit(ctx context.Context, req dto.SubmitAppealRequest, userID string) (*models.Appeal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid appeal payload")
	}

	report, err := s.reports.GetByID(ctx, req.ReportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load report")
	}
	if report.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the report owner may appeal")
	}
	if report.Status != models.ReportStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only rejected reports can be appealed")
	}
	// A disapproved appeal permanently blocks resubmission for the report.
	if report.AppealStatus != nil && *report.AppealStatus == models.AppealStatusDisapproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a previous appeal for this report was disapproved")
	}
	if _, err := s.store.FindActiveByReport(ctx, req.ReportID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "appeal already submitted for this report")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to check existing appeals")
	}

	now := time.Now().UTC()
	appeal := &models.Appeal{
		ReportID:        req.ReportID,
		UserID:          userID,
		Reason:          req.Reason,
		Evidence:        append([]string(nil), req.Evidence...),
		Status:          models.AppealStatusSubmitted,
		CurrentStage:    models.StageSubmitted,
		TotalStages:     models.TotalStages,
		SubmittedAt:     now,
		Deadline:        now.Add(s.outerDeadline),
		StageTimestamps: models.StageTimestamps{models.StepSubmitted: now},
	}
	if err := s.store.Create(ctx, appeal); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to create appeal")
	}

	submitted := models.AppealStatusSubmitted
	if err := s.setReportStatus(ctx, appeal.ReportID, models.ReportStatusUpdate{AppealStatus: &submitted}); err != nil {
		s.logger.Warn("failed to flag report appeal status", zap.String("report_id", appeal.ReportID), zap.Error(err))
	}

	s.publish(ctx, appeal)
	s.recordTransition(appeal)
	s.notify(ctx, appeal.UserID, models.NotificationKindAppealSubmitted,
		"Appeal submitted",
		"Your appeal was received and is awaiting admin review.",
		models.NotificationMeta{"appeal_id": appeal.ID, "report_id": appeal.ReportID})
	s.fanOut(ctx, models.RoleAdmin, models.NotificationKindAppealSubmitted,
		"New appeal awaiting review",
		fmt.Sprintf("A new appeal was submitted for report %s.", appeal.ReportID),
		models.NotificationMeta{"appeal_id": appeal.ID, "report_id": appeal.ReportID})
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionAppealSubmit,
		Resource:   "appeal",
		ResourceID: &appeal.ID,
		NewValues:  []byte(fmt.Sprintf(`{"status":%q,"stage":%d}`, appeal.Status, appeal.CurrentStage)),
	})

	return appeal, nil
}

// AdminReview records the first human decision. Action "forward" advances
// the clerical chain (documentation, forward to department) synchronously.
func (s *AppealService) AdminReview(ctx context.Context, appealID, adminID string, req dto.AdminReviewRequest) (*models.Appeal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.Status != models.AppealStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal is not awaiting admin review")
	}

	now := time.Now().UTC()
	appeal.Status = models.AppealStatusUnderAdminReview
	appeal.CurrentStage = models.StageAdminReview
	appeal.AssignedAdmin = &adminID
	if req.Notes != "" {
		notes := req.Notes
		appeal.AdminNotes = &notes
	}
	appeal.StageTimestamps.Set(models.StepAdminReview, now)
	if err := s.commit(ctx, appeal); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionAppealReview,
		Resource:   "appeal",
		ResourceID: &appeal.ID,
		NewValues:  []byte(fmt.Sprintf(`{"action":%q,"stage":%d}`, req.Action, appeal.CurrentStage)),
	})

	if req.Action == AdminActionForward {
		if err := s.advance(ctx, appeal); err != nil {
			return appeal, err
		}
	}
	return appeal, nil
}

// Document records the clerical documentation stage and forwards the appeal
// to the department. Retrying after a partial advance resumes the chain.
func (s *AppealService) Document(ctx context.Context, appealID string) (*models.Appeal, error) {
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.CurrentStage < models.StageAdminReview || appeal.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal is not ready for documentation")
	}
	if appeal.CurrentStage >= models.StageWithDepartment {
		return appeal, nil
	}
	if err := s.advance(ctx, appeal); err != nil {
		return appeal, err
	}
	return appeal, nil
}

// ForwardToDepartment forwards a documented appeal to the department heads.
// Idempotent once the appeal has reached the department.
func (s *AppealService) ForwardToDepartment(ctx context.Context, appealID string) (*models.Appeal, error) {
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.CurrentStage >= models.StageWithDepartment {
		return appeal, nil
	}
	if appeal.Status != models.AppealStatusDocumented {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal has not been documented yet")
	}
	if err := s.advance(ctx, appeal); err != nil {
		return appeal, err
	}
	return appeal, nil
}

// DepartmentReview stores the department head's proposal and forwards the
// appeal to the president.
func (s *AppealService) DepartmentReview(ctx context.Context, appealID, deptHeadID string, req dto.DepartmentReviewRequest) (*models.Appeal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid proposal payload")
	}
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.Status != models.AppealStatusWithDepartment || appeal.CurrentStage != models.StageWithDepartment {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal is not with the department")
	}

	now := time.Now().UTC()
	proposal := req.Proposal
	appeal.CurrentStage = models.StageDeptReview
	appeal.AssignedDeptHead = &deptHeadID
	appeal.DeptProposal = &proposal
	appeal.StageTimestamps.Set(models.StepDeptReview, now)
	if err := s.commit(ctx, appeal); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &deptHeadID,
		Action:     models.AuditActionAppealReview,
		Resource:   "appeal",
		ResourceID: &appeal.ID,
		NewValues:  []byte(fmt.Sprintf(`{"stage":%d}`, appeal.CurrentStage)),
	})

	if err := s.advance(ctx, appeal); err != nil {
		return appeal, err
	}
	return appeal, nil
}

// ForwardToPresident escalates a reviewed appeal to the president.
// Idempotent once the appeal is with the president.
func (s *AppealService) ForwardToPresident(ctx context.Context, appealID string) (*models.Appeal, error) {
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.CurrentStage >= models.StagePresidentDecision {
		return appeal, nil
	}
	if appeal.CurrentStage != models.StageDeptReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal has not been reviewed by the department")
	}
	if err := s.advance(ctx, appeal); err != nil {
		return appeal, err
	}
	return appeal, nil
}

// PresidentDecision records the final, binding decision and completes the
// appeal. Approval restores the disputed report to the moderation queue.
func (s *AppealService) PresidentDecision(ctx context.Context, appealID, presidentID string, req dto.PresidentDecisionRequest) (*models.Appeal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.Status != models.AppealStatusWithPresident || appeal.CurrentStage != models.StagePresidentDecision {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal is not with the president")
	}

	now := time.Now().UTC()
	decision := req.Decision
	reasoning := req.Reasoning
	appeal.AssignedPresident = &presidentID
	appeal.PresidentDecision = &decision
	appeal.FinalDecision = &reasoning
	appeal.StageTimestamps.Set(models.StepPresidentDecision, now)
	if req.Decision == DecisionApprove {
		appeal.Status = models.AppealStatusApproved
	} else {
		appeal.Status = models.AppealStatusDisapproved
	}
	if err := s.commit(ctx, appeal); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &presidentID,
		Action:     models.AuditActionAppealDecision,
		Resource:   "appeal",
		ResourceID: &appeal.ID,
		NewValues:  []byte(fmt.Sprintf(`{"decision":%q}`, req.Decision)),
	})

	if appeal.Status == models.AppealStatusApproved {
		s.notify(ctx, appeal.UserID, models.NotificationKindAppealApproved,
			"Appeal approved",
			"Your appeal was approved. The report has been restored for moderation.",
			models.NotificationMeta{"appeal_id": appeal.ID, "report_id": appeal.ReportID})
	} else {
		s.notify(ctx, appeal.UserID, models.NotificationKindAppealDisapproved,
			"Appeal disapproved",
			fmt.Sprintf("Your appeal was disapproved: %s", reasoning),
			models.NotificationMeta{"appeal_id": appeal.ID, "report_id": appeal.ReportID})
	}

	if err := s.advance(ctx, appeal); err != nil {
		return appeal, err
	}
	return appeal, nil
}

// Complete finalises a decided appeal. Calling it on a completed appeal is a
// no-op; calling it after a failed gateway write resumes the final step.
func (s *AppealService) Complete(ctx context.Context, appealID string) (*models.Appeal, error) {
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.Status == models.AppealStatusCompleted {
		return appeal, nil
	}
	if appeal.Status != models.AppealStatusApproved && appeal.Status != models.AppealStatusDisapproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal has no final decision yet")
	}
	if err := s.advance(ctx, appeal); err != nil {
		return appeal, err
	}
	return appeal, nil
}

// advance runs the clerical transitions that need no human decision,
// committing one stage at a time, until the workflow reaches the next
// decision state, the terminal state, or an error. Every committed stage is
// durable: a failure mid-chain leaves the appeal resumable at the last
// committed stage.
func (s *AppealService) advance(ctx context.Context, appeal *models.Appeal) error {
	for {
		var err error
		switch {
		case appeal.Status == models.AppealStatusUnderAdminReview && appeal.CurrentStage == models.StageAdminReview:
			err = s.stepDocument(ctx, appeal)
		case appeal.Status == models.AppealStatusDocumented && appeal.CurrentStage == models.StageDocumented:
			err = s.stepForwardToDepartment(ctx, appeal)
		case appeal.CurrentStage == models.StageDeptReview:
			err = s.stepForwardToPresident(ctx, appeal)
		case (appeal.Status == models.AppealStatusApproved || appeal.Status == models.AppealStatusDisapproved) &&
			appeal.CurrentStage == models.StagePresidentDecision:
			err = s.stepComplete(ctx, appeal)
		default:
			return nil
		}
		if err == nil {
			continue
		}
		// A concurrent writer may have advanced the chain already; reload
		// and let the loop re-evaluate from the stored stage.
		if appErrors.Is(err, appErrors.ErrConflict) {
			reloaded, loadErr := s.load(ctx, appeal.ID)
			if loadErr != nil {
				return loadErr
			}
			*appeal = *reloaded
			continue
		}
		return err
	}
}

func (s *AppealService) stepDocument(ctx context.Context, appeal *models.Appeal) error {
	appeal.Status = models.AppealStatusDocumented
	appeal.CurrentStage = models.StageDocumented
	appeal.StageTimestamps.Set(models.StepDocumented, time.Now().UTC())
	return s.commit(ctx, appeal)
}

func (s *AppealService) stepForwardToDepartment(ctx context.Context, appeal *models.Appeal) error {
	appeal.Status = models.AppealStatusWithDepartment
	appeal.CurrentStage = models.StageWithDepartment
	appeal.StageTimestamps.Set(models.StepForwardedToDept, time.Now().UTC())
	if err := s.commit(ctx, appeal); err != nil {
		return err
	}
	s.fanOut(ctx, models.RoleDeptHead, models.NotificationKindAppealForwarded,
		"Appeal forwarded to department",
		fmt.Sprintf("Appeal %s is awaiting a department proposal.", appeal.ID),
		models.NotificationMeta{"appeal_id": appeal.ID, "report_id": appeal.ReportID})
	return nil
}

func (s *AppealService) stepForwardToPresident(ctx context.Context, appeal *models.Appeal) error {
	appeal.Status = models.AppealStatusWithPresident
	appeal.CurrentStage = models.StagePresidentDecision
	return s.commit(ctx, appeal)
}

// stepComplete applies the report-gateway outcome and closes the appeal.
// The gateway write happens before the terminal commit so a retried call
// can redo it; the write itself is idempotent.
func (s *AppealService) stepComplete(ctx context.Context, appeal *models.Appeal) error {
	if appeal.Status == models.AppealStatusApproved {
		pending := models.ReportStatusPending
		restored := true
		approved := models.AppealStatusApproved
		if err := s.setReportStatus(ctx, appeal.ReportID, models.ReportStatusUpdate{
			Status:           &pending,
			RestoredByAppeal: &restored,
			AppealStatus:     &approved,
		}); err != nil {
			return err
		}
	} else {
		disapproved := models.AppealStatusDisapproved
		if err := s.setReportStatus(ctx, appeal.ReportID, models.ReportStatusUpdate{
			AppealStatus: &disapproved,
		}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	appeal.Status = models.AppealStatusCompleted
	appeal.CurrentStage = models.StageCompleted
	appeal.StageTimestamps.Set(models.StepProcessed, now)
	appeal.StageTimestamps.Set(models.StepCompleted, now)
	return s.commit(ctx, appeal)
}

// commit persists a transition with optimistic locking and publishes the
// committed snapshot. A version mismatch surfaces as Conflict.
func (s *AppealService) commit(ctx context.Context, appeal *models.Appeal) error {
	if err := s.store.UpdateTransition(ctx, appeal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "appeal was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to persist appeal transition")
	}
	s.publish(ctx, appeal)
	s.recordTransition(appeal)
	return nil
}

// setReportStatus writes report state through the gateway with bounded
// retries. Exhaustion surfaces as Unavailable.
func (s *AppealService) setReportStatus(ctx context.Context, reportID string, update models.ReportStatusUpdate) error {
	var lastErr error
	for attempt := 0; attempt <= s.gatewayRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.gatewayBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return appErrors.Wrap(ctx.Err(), appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "report gateway write cancelled")
			case <-timer.C:
			}
		}
		if lastErr = s.reports.UpdateStatus(ctx, reportID, update); lastErr == nil {
			return nil
		}
		s.logger.Warn("report gateway write failed",
			zap.String("report_id", reportID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return appErrors.Wrap(lastErr, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "report gateway unavailable")
}

// Get returns an appeal, restricting students to their own appeals.
func (s *AppealService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	appeal, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && appeal.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return appeal, nil
}

// ListByUser returns a user's appeals, newest submission first.
func (s *AppealService) ListByUser(ctx context.Context, userID string, actor *models.JWTClaims) ([]models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent && userID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	appeals, err := s.store.List(ctx, models.AppealFilter{UserID: userID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to list appeals")
	}
	return appeals, nil
}

// ListByStatus returns appeals in the given statuses for reviewer
// dashboards, newest submission first.
func (s *AppealService) ListByStatus(ctx context.Context, statuses []models.AppealStatus, limit, offset int) ([]models.Appeal, error) {
	appeals, err := s.store.List(ctx, models.AppealFilter{Statuses: statuses, Limit: limit, Offset: offset})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to list appeals")
	}
	return appeals, nil
}

// Subscribe exposes the live feed of committed appeal snapshots.
func (s *AppealService) Subscribe(ctx context.Context, statuses []models.AppealStatus) (<-chan models.Appeal, func()) {
	if s.feed == nil {
		out := make(chan models.Appeal)
		close(out)
		return out, func() {}
	}
	return s.feed.Subscribe(ctx, statuses)
}

// Timeline derives the deadline view for an appeal.
func (s *AppealService) Timeline(ctx context.Context, id string, actor *models.JWTClaims) (*dto.AppealTimelineResponse, error) {
	appeal, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	resp := &dto.AppealTimelineResponse{
		AppealID:            appeal.ID,
		CurrentStage:        appeal.CurrentStage,
		Status:              appeal.Status,
		Deadline:            appeal.Deadline,
		HoursRemaining:      HoursRemaining(appeal, now),
		Overdue:             IsOverdue(appeal, now),
		DeadlineApproaching: IsDeadlineApproaching(appeal, now),
	}
	for _, stage := range []int{
		models.StageSubmitted, models.StageAdminReview, models.StageDocumented,
		models.StageWithDepartment, models.StageDeptReview, models.StagePresidentDecision,
		models.StageCompleted,
	} {
		key, _ := models.StepKeyForStage(stage)
		entry := dto.StageTimeline{Stage: stage, StepKey: key}
		if entered, ok := appeal.StageTimestamps[key]; ok {
			ts := entered
			entry.EnteredAt = &ts
		}
		if deadline, ok := StageDeadline(appeal, stage); ok {
			d := deadline
			entry.Deadline = &d
			entry.Overdue = appeal.CurrentStage == stage && now.After(deadline)
		}
		resp.Stages = append(resp.Stages, entry)
	}
	return resp, nil
}

func (s *AppealService) load(ctx context.Context, id string) (*models.Appeal, error) {
	appeal, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load appeal")
	}
	return appeal, nil
}

// notify dispatches a single notification. Delivery is best-effort relative
// to the state transition: failures are logged, never propagated.
func (s *AppealService) notify(ctx context.Context, userID, kind, title, body string, meta models.NotificationMeta) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, kind, title, body, meta); err != nil {
		s.logger.Warn("failed to dispatch notification", zap.String("user_id", userID), zap.String("kind", kind), zap.Error(err))
	}
}

// fanOut notifies every active user holding the given role.
func (s *AppealService) fanOut(ctx context.Context, role models.UserRole, kind, title, body string, meta models.NotificationMeta) {
	if s.directory == nil {
		return
	}
	ids, err := s.directory.UsersWithRole(ctx, role)
	if err != nil {
		s.logger.Warn("failed to resolve role recipients", zap.String("role", string(role)), zap.Error(err))
		return
	}
	for _, id := range ids {
		s.notify(ctx, id, kind, title, body, meta)
	}
}

func (s *AppealService) publish(ctx context.Context, appeal *models.Appeal) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(ctx, appeal)
}

func (s *AppealService) recordTransition(appeal *models.Appeal) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAppealTransition(appeal.Status, appeal.CurrentStage)
}

func (s *AppealService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "appeal-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
