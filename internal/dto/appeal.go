package dto

import (
	"time"

	"github.com/noah-isme/campus-incident-api/internal/models"
)

// SubmitAppealRequest starts the appeal workflow for a rejected report.
type SubmitAppealRequest struct {
	ReportID string   `json:"report_id" validate:"required"`
	Reason   string   `json:"reason" validate:"required,min=50"`
	Evidence []string `json:"evidence" validate:"omitempty,dive,required"`
}

// AdminReviewRequest records the first human decision on an appeal.
// Action "forward" advances the clerical chain to the department.
type AdminReviewRequest struct {
	Action string `json:"action" validate:"required,oneof=forward hold"`
	Notes  string `json:"notes"`
}

// DepartmentReviewRequest carries the department head's proposal.
type DepartmentReviewRequest struct {
	Proposal string `json:"proposal" validate:"required"`
}

// PresidentDecisionRequest carries the final, binding decision.
type PresidentDecisionRequest struct {
	Decision  string `json:"decision" validate:"required,oneof=approve disapprove"`
	Reasoning string `json:"reasoning" validate:"required"`
}

// AppealTimelineResponse exposes deadline state for a single appeal.
type AppealTimelineResponse struct {
	AppealID            string              `json:"appeal_id"`
	CurrentStage        int                 `json:"current_stage"`
	Status              models.AppealStatus `json:"status"`
	Deadline            time.Time           `json:"deadline"`
	HoursRemaining      float64             `json:"hours_remaining"`
	Overdue             bool                `json:"overdue"`
	DeadlineApproaching bool                `json:"deadline_approaching"`
	Stages              []StageTimeline     `json:"stages"`
}

// StageTimeline is one row of the per-stage SLA view.
type StageTimeline struct {
	Stage     int        `json:"stage"`
	StepKey   string     `json:"step_key"`
	EnteredAt *time.Time `json:"entered_at,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Overdue   bool       `json:"overdue"`
}
