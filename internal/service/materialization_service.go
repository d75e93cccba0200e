package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"careplanner/internal/model"
	"careplanner/internal/repository"
)

type activeTemplateLister interface {
	ListActive(ctx context.Context) ([]model.TaskTemplate, error)
}

type recordMaterializer interface {
	InsertMissingForDate(ctx context.Context, date string) (int64, error)
	Get(ctx context.Context, templateID uint, date string) (*model.DailyTaskRecord, error)
	InsertIfMissing(ctx context.Context, templateID uint, date string) (bool, error)
}

// MaterializationEngine makes sure each active template has exactly one record per day.
type MaterializationEngine struct {
	templates activeTemplateLister
	records   recordMaterializer
	loc       *time.Location
	now       func() time.Time
}

func NewMaterializationEngine(templates activeTemplateLister, records recordMaterializer, loc *time.Location) *MaterializationEngine {
	if loc == nil {
		loc = time.Local
	}
	return &MaterializationEngine{templates: templates, records: records, loc: loc, now: time.Now}
}

// Today returns the current calendar date in the engine's location.
func (e *MaterializationEngine) Today() string {
	return model.FormatDate(e.now().In(e.loc))
}

func (e *MaterializationEngine) EnsureToday(ctx context.Context) error {
	return e.EnsureRecordsForDate(ctx, e.Today())
}

// EnsureRecordsForDate creates the missing open records for date. It tries one
// bulk statement first and falls back to per-template inserts if that fails.
// Safe to call repeatedly and concurrently.
func (e *MaterializationEngine) EnsureRecordsForDate(ctx context.Context, date string) error {
	if _, err := model.ParseDate(date); err != nil {
		return err
	}

	inserted, err := e.records.InsertMissingForDate(ctx, date)
	if err == nil {
		if inserted > 0 {
			log.Printf("[info] materialized %d records for %s", inserted, date)
		}
		return nil
	}
	log.Printf("[warn] bulk materialization for %s failed, falling back per template: %v", date, err)

	tpls, err := e.templates.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", date, err)
	}

	created, failed := 0, 0
	for _, tpl := range tpls {
		if _, err := e.records.Get(ctx, tpl.ID, date); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			failed++
			log.Printf("[warn] materialize template %d for %s: %v", tpl.ID, date, err)
			continue
		}
		ok, err := e.records.InsertIfMissing(ctx, tpl.ID, date)
		if err != nil {
			failed++
			log.Printf("[warn] materialize template %d for %s: %v", tpl.ID, date, err)
			continue
		}
		if ok {
			created++
		}
	}
	log.Printf("[info] fallback materialization for %s: %d created, %d failed", date, created, failed)
	return nil
}
