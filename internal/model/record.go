package model

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used for DailyTaskRecord.Date.
const DateLayout = "2006-01-02"

// DailyTaskRecord is one calendar day's completion state for one template.
type DailyTaskRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TemplateID  uint       `gorm:"not null;index;uniqueIndex:idx_template_date,priority:1" json:"templateId"`
	Date        string     `gorm:"not null;index;uniqueIndex:idx_template_date,priority:2" json:"date"`
	IsCompleted bool       `gorm:"default:false" json:"isCompleted"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RemoteID    *string    `gorm:"index" json:"remoteId,omitempty"`
	SyncState   SyncState  `gorm:"default:local_only" json:"syncState"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	// Revision counts local writes; a push only marks the row synced if it is unchanged.
	Revision int64 `gorm:"not null;default:0" json:"-"`
}

func (DailyTaskRecord) TableName() string { return "daily_task_records" }

func (r DailyTaskRecord) HasRemote() bool {
	return r.RemoteID != nil && *r.RemoteID != ""
}

// FormatDate renders t as a record date in t's own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate validates a "YYYY-MM-DD" record date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}
