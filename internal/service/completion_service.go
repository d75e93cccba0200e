package service

import (
	"context"
	"errors"
	"time"

	"careplanner/internal/model"
	"careplanner/internal/repository"
)

type completionStore interface {
	Get(ctx context.Context, templateID uint, date string) (*model.DailyTaskRecord, error)
	SetCompletion(ctx context.Context, id uint, completed bool, completedAt *time.Time) error
	Upsert(ctx context.Context, rec *model.DailyTaskRecord) error
	ResetForDate(ctx context.Context, date string) (int64, error)
	CountForDate(ctx context.Context, date string) (completed, total int64, err error)
}

// Progress is the completion count for one day.
type Progress struct {
	Date      string `json:"date"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// Percent is the rounded-down completion percentage; 0 when there is nothing to do.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int(p.Completed * 100 / p.Total)
}

// CompletionTracker flips daily records between open and completed.
type CompletionTracker struct {
	records completionStore
	now     func() time.Time
}

func NewCompletionTracker(records completionStore) *CompletionTracker {
	return &CompletionTracker{records: records, now: time.Now}
}

// SetCompletion marks (templateID, date) completed or open. A missing record is
// created when completing and ignored when un-completing. Store errors propagate.
func (t *CompletionTracker) SetCompletion(ctx context.Context, templateID uint, date string, completed bool) error {
	if _, err := model.ParseDate(date); err != nil {
		return err
	}

	rec, err := t.records.Get(ctx, templateID, date)
	switch {
	case err == nil:
		var at *time.Time
		if completed {
			if rec.IsCompleted && rec.CompletedAt != nil {
				at = rec.CompletedAt
			} else {
				now := t.now()
				at = &now
			}
		}
		return t.records.SetCompletion(ctx, rec.ID, completed, at)
	case errors.Is(err, repository.ErrNotFound):
		if !completed {
			return nil
		}
		now := t.now()
		return t.records.Upsert(ctx, &model.DailyTaskRecord{
			TemplateID:  templateID,
			Date:        date,
			IsCompleted: true,
			CompletedAt: &now,
		})
	default:
		return err
	}
}

// ResetForDate reopens every record for date without deleting any.
func (t *CompletionTracker) ResetForDate(ctx context.Context, date string) error {
	if _, err := model.ParseDate(date); err != nil {
		return err
	}
	_, err := t.records.ResetForDate(ctx, date)
	return err
}

func (t *CompletionTracker) Progress(ctx context.Context, date string) (Progress, error) {
	completed, total, err := t.records.CountForDate(ctx, date)
	if err != nil {
		return Progress{}, err
	}
	return Progress{Date: date, Completed: completed, Total: total}, nil
}
