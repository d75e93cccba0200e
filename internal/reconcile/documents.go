package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"careplanner/internal/model"
)

// templateDoc is the remote shape of a task template.
type templateDoc struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	TimeBlock   string    `json:"timeBlock"`
	Time        string    `json:"time"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// recordDoc is the remote shape of a daily record. TemplateID holds the
// template's remote id; local integer ids mean nothing on other devices.
type recordDoc struct {
	TemplateID  string     `json:"templateId"`
	Date        string     `json:"date"`
	IsCompleted bool       `json:"isCompleted"`
	CompletedAt *time.Time `json:"completedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

const recordTemplateField = "templateId"

func encodeTemplate(tpl model.TaskTemplate) ([]byte, error) {
	return json.Marshal(templateDoc{
		Title:       tpl.Title,
		Description: tpl.Description,
		TimeBlock:   string(tpl.TimeBlock),
		Time:        tpl.Time,
		Category:    string(tpl.Category),
		Priority:    string(tpl.Priority),
		IsActive:    tpl.IsActive,
		CreatedAt:   tpl.CreatedAt,
		UpdatedAt:   tpl.UpdatedAt,
	})
}

func decodeTemplate(data []byte) (model.TaskTemplate, error) {
	var doc templateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.TaskTemplate{}, fmt.Errorf("decode template: %w", err)
	}
	if doc.Title == "" {
		return model.TaskTemplate{}, fmt.Errorf("decode template: missing title")
	}
	if _, _, err := model.ParseClock(doc.Time); err != nil {
		return model.TaskTemplate{}, fmt.Errorf("decode template: %w", err)
	}
	category, err := model.ParseCategory(doc.Category)
	if err != nil {
		return model.TaskTemplate{}, fmt.Errorf("decode template: %w", err)
	}
	priority, err := model.ParsePriority(doc.Priority)
	if err != nil {
		return model.TaskTemplate{}, fmt.Errorf("decode template: %w", err)
	}
	block := model.TimeBlock(doc.TimeBlock)
	if !block.Valid() {
		block = model.DeriveTimeBlock(doc.Time)
	}
	return model.TaskTemplate{
		Title:       doc.Title,
		Description: doc.Description,
		TimeBlock:   block,
		Time:        doc.Time,
		Category:    category,
		Priority:    priority,
		IsActive:    doc.IsActive,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func encodeRecord(rec model.DailyTaskRecord, templateRemoteID string) ([]byte, error) {
	return json.Marshal(recordDoc{
		TemplateID:  templateRemoteID,
		Date:        rec.Date,
		IsCompleted: rec.IsCompleted,
		CompletedAt: rec.CompletedAt,
		UpdatedAt:   rec.UpdatedAt,
	})
}

func decodeRecord(data []byte) (recordDoc, error) {
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return recordDoc{}, fmt.Errorf("decode record: %w", err)
	}
	if doc.TemplateID == "" {
		return recordDoc{}, fmt.Errorf("decode record: missing template id")
	}
	if _, err := model.ParseDate(doc.Date); err != nil {
		return recordDoc{}, fmt.Errorf("decode record: %w", err)
	}
	if !doc.IsCompleted {
		doc.CompletedAt = nil
	}
	return doc, nil
}
