package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
	"github.com/noah-isme/campus-incident-api/pkg/export"
)

type exportAppealReader interface {
	GetByID(ctx context.Context, id string) (*models.Appeal, error)
}

type exportReportReader interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
}

// ExportService renders printable case files for decided appeals.
type ExportService struct {
	appeals  exportAppealReader
	reports  exportReportReader
	exporter *export.CaseFileExporter
	logger   *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(appeals exportAppealReader, reports exportReportReader, exporter *export.CaseFileExporter, logger *zap.Logger) *ExportService {
	if exporter == nil {
		exporter = export.NewCaseFileExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{appeals: appeals, reports: reports, exporter: exporter, logger: logger}
}

// CaseFile renders the PDF case file for an appeal. Students may export
// their own appeals; reviewer roles may export any.
func (s *ExportService) CaseFile(ctx context.Context, appealID string, actor *models.JWTClaims) ([]byte, string, error) {
	if actor == nil {
		return nil, "", appErrors.ErrUnauthorized
	}
	appeal, err := s.appeals.GetByID(ctx, appealID)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
	}
	if actor.Role == models.RoleStudent && appeal.UserID != actor.UserID {
		return nil, "", appErrors.ErrForbidden
	}

	fields := []export.Field{
		{Label: "Appeal ID", Value: appeal.ID},
		{Label: "Status", Value: string(appeal.Status)},
		{Label: "Stage", Value: fmt.Sprintf("%d of %d", appeal.CurrentStage, appeal.TotalStages)},
		{Label: "Submitted", Value: appeal.SubmittedAt.Format(time.RFC1123)},
		{Label: "Deadline", Value: appeal.Deadline.Format(time.RFC1123)},
		{Label: "Reason", Value: appeal.Reason},
	}

	report, err := s.reports.GetByID(ctx, appeal.ReportID)
	if err != nil {
		s.logger.Warn("case file rendered without report details", zap.String("report_id", appeal.ReportID), zap.Error(err))
	} else {
		fields = append(fields,
			export.Field{Label: "Report", Value: report.Title},
			export.Field{Label: "Report Status", Value: string(report.Status)},
		)
		if report.RejectionReason != nil {
			fields = append(fields, export.Field{Label: "Rejection Reason", Value: *report.RejectionReason})
		}
	}
	if appeal.AdminNotes != nil {
		fields = append(fields, export.Field{Label: "Admin Notes", Value: *appeal.AdminNotes})
	}
	if appeal.DeptProposal != nil {
		fields = append(fields, export.Field{Label: "Department Proposal", Value: *appeal.DeptProposal})
	}
	if appeal.FinalDecision != nil {
		fields = append(fields, export.Field{Label: "Final Decision", Value: *appeal.FinalDecision})
	}

	var timeline []export.TimelineEntry
	for _, stage := range []int{
		models.StageSubmitted, models.StageAdminReview, models.StageDocumented,
		models.StageWithDepartment, models.StageDeptReview, models.StagePresidentDecision,
		models.StageCompleted,
	} {
		key, _ := models.StepKeyForStage(stage)
		entry := export.TimelineEntry{Stage: key}
		if entered, ok := appeal.StageTimestamps[key]; ok {
			entry.Timestamp = entered.Format(time.RFC1123)
		}
		if deadline, ok := StageDeadline(appeal, stage); ok {
			entry.Deadline = deadline.Format(time.RFC1123)
		}
		timeline = append(timeline, entry)
	}

	data, err := s.exporter.Render(export.CaseFile{
		Title:    fmt.Sprintf("Appeal Case File %s", appeal.ID),
		Fields:   fields,
		Timeline: timeline,
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render case file")
	}
	filename := fmt.Sprintf("appeal-%s.pdf", appeal.ID)
	return data, filename, nil
}
