package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// AppealStatus captures workflow states for report appeals.
type AppealStatus string

const (
	AppealStatusSubmitted        AppealStatus = "SUBMITTED"
	AppealStatusUnderAdminReview AppealStatus = "UNDER_ADMIN_REVIEW"
	AppealStatusDocumented       AppealStatus = "DOCUMENTED"
	AppealStatusWithDepartment   AppealStatus = "WITH_DEPARTMENT"
	AppealStatusWithPresident    AppealStatus = "WITH_PRESIDENT"
	AppealStatusApproved         AppealStatus = "APPROVED"
	AppealStatusDisapproved      AppealStatus = "DISAPPROVED"
	AppealStatusCompleted        AppealStatus = "COMPLETED"
)

// Valid reports whether the status is part of the workflow vocabulary.
func (s AppealStatus) Valid() bool {
	switch s {
	case AppealStatusSubmitted, AppealStatusUnderAdminReview, AppealStatusDocumented,
		AppealStatusWithDepartment, AppealStatusWithPresident,
		AppealStatusApproved, AppealStatusDisapproved, AppealStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the appeal can no longer be mutated.
func (s AppealStatus) Terminal() bool {
	return s == AppealStatusCompleted
}

// Workflow stage numbers. Stages 7-9 are reserved by the ten-step process
// but collapse into final processing; stage 10 is terminal.
const (
	StageSubmitted         = 1
	StageAdminReview       = 2
	StageDocumented        = 3
	StageWithDepartment    = 4
	StageDeptReview        = 5
	StagePresidentDecision = 6
	StageCompleted         = 10

	TotalStages = 10
)

// Step keys index the stage timestamp map. Entries are write-once.
const (
	StepSubmitted         = "step1_submitted"
	StepAdminReview       = "step2_adminReview"
	StepDocumented        = "step3_documented"
	StepForwardedToDept   = "step4_forwardedToDept"
	StepDeptReview        = "step5_deptReview"
	StepPresidentDecision = "step6_presidentDecision"
	StepProcessed         = "step7_processed"
	StepCompleted         = "step10_completed"
)

// StepKeyForStage maps a stage number to its timestamp key.
func StepKeyForStage(stage int) (string, bool) {
	switch stage {
	case StageSubmitted:
		return StepSubmitted, true
	case StageAdminReview:
		return StepAdminReview, true
	case StageDocumented:
		return StepDocumented, true
	case StageWithDepartment:
		return StepForwardedToDept, true
	case StageDeptReview:
		return StepDeptReview, true
	case StagePresidentDecision:
		return StepPresidentDecision, true
	case StageCompleted:
		return StepCompleted, true
	}
	return "", false
}

// StageTimestamps records when an appeal entered each stage, keyed by step
// name. Stored as a JSONB column.
type StageTimestamps map[string]time.Time

// Value implements driver.Valuer.
func (st StageTimestamps) Value() (driver.Value, error) {
	if st == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(st)
}

// Scan implements sql.Scanner.
func (st *StageTimestamps) Scan(src interface{}) error {
	if src == nil {
		*st = StageTimestamps{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported stage timestamps type %T", src)
	}
	if len(raw) == 0 {
		*st = StageTimestamps{}
		return nil
	}
	return json.Unmarshal(raw, st)
}

// Set records the timestamp for a step unless one is already present.
// Existing entries are never overwritten (audit trail).
func (st StageTimestamps) Set(step string, ts time.Time) {
	if _, exists := st[step]; exists {
		return
	}
	st[step] = ts
}

// Appeal is the aggregate root of the appeal workflow: a user-initiated
// dispute of a rejected report tracked through a fixed ten-stage review.
type Appeal struct {
	ID                string          `db:"id" json:"id"`
	ReportID          string          `db:"report_id" json:"report_id"`
	UserID            string          `db:"user_id" json:"user_id"`
	Reason            string          `db:"reason" json:"reason"`
	Evidence          pq.StringArray  `db:"evidence" json:"evidence"`
	Status            AppealStatus    `db:"status" json:"status"`
	CurrentStage      int             `db:"current_stage" json:"current_stage"`
	TotalStages       int             `db:"total_stages" json:"total_stages"`
	SubmittedAt       time.Time       `db:"submitted_at" json:"submitted_at"`
	Deadline          time.Time       `db:"deadline" json:"deadline"`
	StageTimestamps   StageTimestamps `db:"stage_timestamps" json:"stage_timestamps"`
	AssignedAdmin     *string         `db:"assigned_admin" json:"assigned_admin,omitempty"`
	AssignedDeptHead  *string         `db:"assigned_dept_head" json:"assigned_dept_head,omitempty"`
	AssignedPresident *string         `db:"assigned_president" json:"assigned_president,omitempty"`
	AdminNotes        *string         `db:"admin_notes" json:"admin_notes,omitempty"`
	DeptProposal      *string         `db:"dept_proposal" json:"dept_proposal,omitempty"`
	PresidentDecision *string         `db:"president_decision" json:"president_decision,omitempty"`
	FinalDecision     *string         `db:"final_decision" json:"final_decision,omitempty"`
	Version           int64           `db:"version" json:"version"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Active reports whether the appeal still occupies its report's appeal slot.
func (a *Appeal) Active() bool {
	return !a.Status.Terminal()
}

// AppealFilter constrains listing queries.
type AppealFilter struct {
	UserID   string
	Statuses []AppealStatus
	Limit    int
	Offset   int
}
