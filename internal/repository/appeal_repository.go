package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-incident-api/internal/models"
)

const appealColumns = `id, report_id, user_id, reason, evidence, status, current_stage, total_stages,
       submitted_at, deadline, stage_timestamps, assigned_admin, assigned_dept_head, assigned_president,
       admin_notes, dept_proposal, president_decision, final_decision, version, created_at, updated_at`

// AppealRepository persists appeal workflow records.
type AppealRepository struct {
	db *sqlx.DB
}

// NewAppealRepository constructs the repository.
func NewAppealRepository(db *sqlx.DB) *AppealRepository {
	return &AppealRepository{db: db}
}

// Create inserts a new appeal row.
func (r *AppealRepository) Create(ctx context.Context, appeal *models.Appeal) error {
	if appeal.ID == "" {
		appeal.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if appeal.CreatedAt.IsZero() {
		appeal.CreatedAt = now
	}
	appeal.UpdatedAt = now
	if appeal.Version == 0 {
		appeal.Version = 1
	}
	if appeal.TotalStages == 0 {
		appeal.TotalStages = models.TotalStages
	}
	const query = `INSERT INTO appeals
	(id, report_id, user_id, reason, evidence, status, current_stage, total_stages, submitted_at, deadline,
	 stage_timestamps, assigned_admin, assigned_dept_head, assigned_president, admin_notes, dept_proposal,
	 president_decision, final_decision, version, created_at, updated_at)
	VALUES (:id, :report_id, :user_id, :reason, :evidence, :status, :current_stage, :total_stages, :submitted_at,
	 :deadline, :stage_timestamps, :assigned_admin, :assigned_dept_head, :assigned_president, :admin_notes,
	 :dept_proposal, :president_decision, :final_decision, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, appeal); err != nil {
		return fmt.Errorf("create appeal: %w", err)
	}
	return nil
}

// GetByID fetches an appeal by identifier.
func (r *AppealRepository) GetByID(ctx context.Context, id string) (*models.Appeal, error) {
	query := fmt.Sprintf(`SELECT %s FROM appeals WHERE id = $1`, appealColumns)
	var appeal models.Appeal
	if err := r.db.GetContext(ctx, &appeal, query, id); err != nil {
		return nil, err
	}
	return &appeal, nil
}

// FindActiveByReport returns the non-terminal appeal for a report, if any.
func (r *AppealRepository) FindActiveByReport(ctx context.Context, reportID string) (*models.Appeal, error) {
	query := fmt.Sprintf(`SELECT %s FROM appeals WHERE report_id = $1 AND status <> $2 LIMIT 1`, appealColumns)
	var appeal models.Appeal
	if err := r.db.GetContext(ctx, &appeal, query, reportID, models.AppealStatusCompleted); err != nil {
		return nil, err
	}
	return &appeal, nil
}

// List returns appeals matching the filter, newest submission first.
func (r *AppealRepository) List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM appeals", appealColumns))

	conditions := make([]string, 0, 2)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY submitted_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var appeals []models.Appeal
	if err := r.db.SelectContext(ctx, &appeals, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	return appeals, nil
}

// AppendEvidence persists the appeal's evidence list under the same
// optimistic lock as workflow transitions, so an upload cannot clobber a
// concurrent stage change. Zero affected rows means the caller must re-read.
func (r *AppealRepository) AppendEvidence(ctx context.Context, appeal *models.Appeal) error {
	expectedVersion := appeal.Version
	appeal.UpdatedAt = time.Now().UTC()
	const query = `UPDATE appeals SET
	    evidence = :evidence,
	    version = :expected_version + 1,
	    updated_at = :updated_at
	WHERE id = :id AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               appeal.ID,
		"evidence":         appeal.Evidence,
		"expected_version": expectedVersion,
		"updated_at":       appeal.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("append appeal evidence: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check appeal evidence rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	appeal.Version = expectedVersion + 1
	return nil
}

// UpdateTransition persists a workflow transition with optimistic locking.
// The write only lands when the stored version still matches
// appeal.Version; zero affected rows means a concurrent writer won and the
// caller must re-read. On success the in-memory version is bumped.
func (r *AppealRepository) UpdateTransition(ctx context.Context, appeal *models.Appeal) error {
	expectedVersion := appeal.Version
	appeal.UpdatedAt = time.Now().UTC()
	const query = `UPDATE appeals SET
	    status = :status,
	    current_stage = :current_stage,
	    stage_timestamps = :stage_timestamps,
	    assigned_admin = :assigned_admin,
	    assigned_dept_head = :assigned_dept_head,
	    assigned_president = :assigned_president,
	    admin_notes = :admin_notes,
	    dept_proposal = :dept_proposal,
	    president_decision = :president_decision,
	    final_decision = :final_decision,
	    version = :expected_version + 1,
	    updated_at = :updated_at
	WHERE id = :id AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                 appeal.ID,
		"status":             appeal.Status,
		"current_stage":      appeal.CurrentStage,
		"stage_timestamps":   appeal.StageTimestamps,
		"assigned_admin":     appeal.AssignedAdmin,
		"assigned_dept_head": appeal.AssignedDeptHead,
		"assigned_president": appeal.AssignedPresident,
		"admin_notes":        appeal.AdminNotes,
		"dept_proposal":      appeal.DeptProposal,
		"president_decision": appeal.PresidentDecision,
		"final_decision":     appeal.FinalDecision,
		"expected_version":   expectedVersion,
		"updated_at":         appeal.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update appeal transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check appeal update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	appeal.Version = expectedVersion + 1
	return nil
}
