package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Notification kinds emitted by the appeal workflow.
const (
	NotificationKindAppealSubmitted   = "APPEAL_SUBMITTED"
	NotificationKindAppealForwarded   = "APPEAL_FORWARDED"
	NotificationKindAppealApproved    = "APPEAL_APPROVED"
	NotificationKindAppealDisapproved = "APPEAL_DISAPPROVED"
	NotificationKindReportModerated   = "REPORT_MODERATED"
)

// NotificationMeta carries free-form context, stored as JSONB.
type NotificationMeta map[string]string

// Value implements driver.Valuer.
func (m NotificationMeta) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *NotificationMeta) Scan(src interface{}) error {
	if src == nil {
		*m = NotificationMeta{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported notification meta type %T", src)
	}
	if len(raw) == 0 {
		*m = NotificationMeta{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Notification is a one-way message delivered to a user's inbox.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      string           `db:"kind" json:"kind"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"body"`
	Meta      NotificationMeta `db:"meta" json:"meta,omitempty"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter constrains inbox listing queries.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}
