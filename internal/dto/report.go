package dto

import "github.com/noah-isme/campus-incident-api/internal/models"

// CreateReportRequest files a new incident report.
type CreateReportRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	Category    string `json:"category" validate:"required,oneof=FACILITY SAFETY ACADEMICS OTHER"`
	Location    string `json:"location"`
}

// ModerateReportRequest records a moderator verdict on a report.
type ModerateReportRequest struct {
	Status          models.ReportStatus `json:"status" validate:"required,oneof=pending approved rejected"`
	RejectionReason string              `json:"rejection_reason"`
}

// ReportQuery filters report listings.
type ReportQuery struct {
	Status   string
	Category string
	Limit    int
	Offset   int
}
