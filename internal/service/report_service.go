package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-incident-api/internal/dto"
	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
)

type reportStore interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error)
	UpdateStatus(ctx context.Context, id string, update models.ReportStatusUpdate) error
}

type activeAppealFinder interface {
	FindActiveByReport(ctx context.Context, reportID string) (*models.Appeal, error)
}

// ReportService handles incident report intake and moderation. The appeal
// engine talks to the same store through its report gateway.
type ReportService struct {
	store     reportStore
	appeals   activeAppealFinder
	notifier  appealNotifier
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReportService constructs the service. appeals may be nil.
func NewReportService(store reportStore, appeals activeAppealFinder, notifier appealNotifier, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		store:     store,
		appeals:   appeals,
		notifier:  notifier,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// Create files a new incident report on behalf of the user.
func (s *ReportService) Create(ctx context.Context, req dto.CreateReportRequest, userID string) (*models.Report, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	report := &models.Report{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Category:    models.ReportCategory(req.Category),
		Status:      models.ReportStatusPending,
	}
	if req.Location != "" {
		location := req.Location
		report.Location = &location
	}
	if err := s.store.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to create report")
	}
	return report, nil
}

// Get returns a report, restricting students to their own reports.
func (s *ReportService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Report, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	report, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load report")
	}
	if actor.Role == models.RoleStudent && report.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return report, nil
}

// List returns reports matching the query. Students only see their own.
func (s *ReportService) List(ctx context.Context, query dto.ReportQuery, actor *models.JWTClaims) ([]models.Report, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.ReportFilter{Limit: query.Limit, Offset: query.Offset}
	if actor.Role == models.RoleStudent {
		filter.UserID = actor.UserID
	}
	if query.Status != "" {
		status := models.ReportStatus(query.Status)
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown report status")
		}
		filter.Status = &status
	}
	if query.Category != "" {
		category := models.ReportCategory(query.Category)
		filter.Category = &category
	}
	reports, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to list reports")
	}
	return reports, nil
}

// Moderate records a moderator verdict. Rejections require a reason so the
// reporter can decide whether to appeal.
func (s *ReportService) Moderate(ctx context.Context, id, moderatorID string, req dto.ModerateReportRequest) (*models.Report, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid moderation payload")
	}
	if req.Status == models.ReportStatusRejected && req.RejectionReason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires a reason")
	}

	report, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load report")
	}
	// While an appeal is open the report belongs to the workflow, not
	// the moderators. The appeal_status flag is written best effort on
	// submission, so the appeal store is consulted as well.
	if report.AppealStatus != nil && *report.AppealStatus == models.AppealStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "report has an appeal in progress")
	}
	if s.appeals != nil {
		if _, err := s.appeals.FindActiveByReport(ctx, id); err == nil {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "report has an appeal in progress")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to check for open appeals")
		}
	}

	status := req.Status
	update := models.ReportStatusUpdate{Status: &status}
	if req.Status == models.ReportStatusRejected {
		reason := req.RejectionReason
		update.RejectionReason = &reason
	}
	if err := s.store.UpdateStatus(ctx, id, update); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to update report")
	}
	report.Status = status
	if update.RejectionReason != nil {
		report.RejectionReason = update.RejectionReason
	}

	if s.notifier != nil {
		body := fmt.Sprintf("Your report %q was marked %s.", report.Title, status)
		if status == models.ReportStatusRejected {
			body = fmt.Sprintf("Your report %q was rejected: %s", report.Title, req.RejectionReason)
		}
		if err := s.notifier.Notify(ctx, report.UserID, models.NotificationKindReportModerated,
			"Report moderated", body,
			models.NotificationMeta{"report_id": report.ID, "status": string(status)}); err != nil {
			s.logger.Warn("failed to dispatch moderation notification", zap.String("report_id", report.ID), zap.Error(err))
		}
	}
	if s.audit != nil {
		log := &models.AuditLog{
			UserID:     &moderatorID,
			Action:     models.AuditActionReportModerate,
			Resource:   "report",
			ResourceID: &report.ID,
			NewValues:  []byte(fmt.Sprintf(`{"status":%q}`, status)),
			IPAddress:  "system",
			UserAgent:  "report-service",
		}
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return report, nil
}
