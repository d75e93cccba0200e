package model

import "time"

// TaskTemplate represents a recurring care task defined once and tracked every day.
type TaskTemplate struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `json:"description"`
	TimeBlock   TimeBlock `json:"timeBlock"`
	Time        string    `json:"time"` // 12-hour wall clock, e.g. "8:00 AM"
	Category    Category  `json:"category"`
	Priority    Priority  `gorm:"default:MEDIUM" json:"priority"`
	IsActive    bool      `gorm:"default:true;index" json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	RemoteID    *string   `gorm:"index" json:"remoteId,omitempty"`
	SyncState   SyncState `gorm:"default:local_only" json:"syncState"`

	// Revision counts local writes; a push only marks the row synced if it is unchanged.
	Revision int64 `gorm:"not null;default:0" json:"-"`

	Records []DailyTaskRecord `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE" json:"-"`
}

func (TaskTemplate) TableName() string { return "task_templates" }

// HasRemote reports whether the template has been pushed at least once.
func (t TaskTemplate) HasRemote() bool {
	return t.RemoteID != nil && *t.RemoteID != ""
}

// Payload returns what an alarm carries so delivery can render without a store lookup.
func (t TaskTemplate) Payload() FiringPayload {
	return FiringPayload{
		TemplateID:  t.ID,
		Title:       t.Title,
		Description: t.Description,
		Category:    string(t.Category),
		Priority:    string(t.Priority),
	}
}

// FiringPayload is handed to the delivery layer when a reminder fires.
type FiringPayload struct {
	TemplateID  uint   `json:"templateId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
}
