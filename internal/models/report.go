package models

import "time"

// ReportStatus reflects moderation state of an incident report.
type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "pending"
	ReportStatusApproved ReportStatus = "approved"
	ReportStatusRejected ReportStatus = "rejected"
)

// Valid reports whether the status is a known moderation state.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusPending, ReportStatusApproved, ReportStatusRejected:
		return true
	}
	return false
}

// ReportCategory groups incident reports for triage.
type ReportCategory string

const (
	ReportCategoryFacility  ReportCategory = "FACILITY"
	ReportCategorySafety    ReportCategory = "SAFETY"
	ReportCategoryAcademics ReportCategory = "ACADEMICS"
	ReportCategoryOther     ReportCategory = "OTHER"
)

// Report is a campus incident report filed by a student.
type Report struct {
	ID               string         `db:"id" json:"id"`
	UserID           string         `db:"user_id" json:"user_id"`
	Title            string         `db:"title" json:"title"`
	Description      string         `db:"description" json:"description"`
	Category         ReportCategory `db:"category" json:"category"`
	Location         *string        `db:"location" json:"location,omitempty"`
	Status           ReportStatus   `db:"status" json:"status"`
	RejectionReason  *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	AppealStatus     *AppealStatus  `db:"appeal_status" json:"appeal_status,omitempty"`
	RestoredByAppeal bool           `db:"restored_by_appeal" json:"restored_by_appeal"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// ReportFilter constrains report listing queries.
type ReportFilter struct {
	UserID   string
	Status   *ReportStatus
	Category *ReportCategory
	Limit    int
	Offset   int
}

// ReportStatusUpdate groups the columns touched when the appeal engine or a
// moderator writes back report state.
type ReportStatusUpdate struct {
	Status           *ReportStatus
	RejectionReason  *string
	AppealStatus     *AppealStatus
	RestoredByAppeal *bool
}
