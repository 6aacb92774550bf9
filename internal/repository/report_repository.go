package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-incident-api/internal/models"
)

const reportColumns = `id, user_id, title, description, category, location, status, rejection_reason,
       appeal_status, restored_by_appeal, created_at, updated_at`

// ReportRepository persists incident reports.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report row.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Status == "" {
		report.Status = models.ReportStatusPending
	}
	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now
	const query = `INSERT INTO reports
	(id, user_id, title, description, category, location, status, rejection_reason, appeal_status, restored_by_appeal, created_at, updated_at)
	VALUES (:id, :user_id, :title, :description, :category, :location, :status, :rejection_reason, :appeal_status, :restored_by_appeal, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetByID fetches a report by identifier.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	query := fmt.Sprintf(`SELECT %s FROM reports WHERE id = $1`, reportColumns)
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, err
	}
	return &report, nil
}

// List returns reports matching the filter, newest first.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 3)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM reports", reportColumns))

	conditions := make([]string, 0, 3)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// UpdateStatus applies the provided status update, touching only the
// columns the caller set.
func (r *ReportRepository) UpdateStatus(ctx context.Context, id string, update models.ReportStatusUpdate) error {
	setParts := make([]string, 0, 5)
	params := map[string]interface{}{
		"id":         id,
		"updated_at": time.Now().UTC(),
	}
	if update.Status != nil {
		setParts = append(setParts, "status = :status")
		params["status"] = *update.Status
	}
	if update.RejectionReason != nil {
		setParts = append(setParts, "rejection_reason = :rejection_reason")
		params["rejection_reason"] = *update.RejectionReason
	}
	if update.AppealStatus != nil {
		setParts = append(setParts, "appeal_status = :appeal_status")
		params["appeal_status"] = *update.AppealStatus
	}
	if update.RestoredByAppeal != nil {
		setParts = append(setParts, "restored_by_appeal = :restored_by_appeal")
		params["restored_by_appeal"] = *update.RestoredByAppeal
	}
	if len(setParts) == 0 {
		return nil
	}
	setParts = append(setParts, "updated_at = :updated_at")

	query := fmt.Sprintf("UPDATE reports SET %s WHERE id = :id", strings.Join(setParts, ", "))
	if _, err := r.db.NamedExecContext(ctx, query, params); err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	return nil
}
