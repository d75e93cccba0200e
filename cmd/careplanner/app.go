package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"careplanner/internal/config"
	"careplanner/internal/model"
	"careplanner/internal/reconcile"
	"careplanner/internal/remote"
	"careplanner/internal/repository"
	"careplanner/internal/service"
)

// syncWindowDays is how far back a sync pass pulls records.
const syncWindowDays = 7

// app holds every long-lived component, built once per command.
type app struct {
	cfg config.Config
	db  *gorm.DB

	feed      *repository.Feed
	templates *repository.TemplateRepository
	records   *repository.RecordRepository

	scheduler *service.SchedulerService
	alarms    *service.CronAlarms
	reminders *service.ReminderScheduler
	engine    *service.MaterializationEngine
	tracker   *service.CompletionTracker
	content   *service.ContentGenerator
	summary   *service.SummaryService
	recovery  *service.BootRecoveryHandler
	templSvc  *service.TemplateService

	docs       remote.Store
	closeDocs  func() error
	reconciler *reconcile.Reconciler
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	feed := repository.NewFeed()
	db, err := repository.NewDB(cfg.DatabaseURL, feed)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	a := &app{cfg: cfg, db: db, feed: feed}
	a.templates = repository.NewTemplateRepository(db, feed)
	a.records = repository.NewRecordRepository(db, feed, cfg.Location)

	a.scheduler = service.NewSchedulerService(cfg.Location)
	a.alarms = service.NewCronAlarms(a.scheduler, service.ParseCapability(cfg.ExactAlarmPermission))
	a.reminders = service.NewReminderScheduler(a.alarms, cfg.Location)
	a.engine = service.NewMaterializationEngine(a.templates, a.records, cfg.Location)
	a.tracker = service.NewCompletionTracker(a.records)
	a.content = service.NewContentGenerator()
	a.summary = service.NewSummaryService(a.templates, a.records)
	a.recovery = service.NewBootRecoveryHandler(a.templates, a.reminders)
	a.templSvc = service.NewTemplateService(a.templates, a.reminders)

	if cfg.RedisURL != "" {
		store, err := remote.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("remote store: %w", err)
		}
		a.docs = store
		a.closeDocs = store.Close
	} else {
		log.Printf("[warn] REDIS_URL is not set, remote documents live in memory only")
		a.docs = remote.NewMemoryStore()
	}
	a.reconciler = reconcile.NewReconciler(cfg.OwnerID, a.docs, a.templates, a.records)
	a.reconciler.SetReminderArmer(a.reminders)

	return a, nil
}

// syncAll runs a sync pass over the trailing window ending today.
func (a *app) syncAll(ctx context.Context) (reconcile.Report, error) {
	to := a.engine.Today()
	toDate, err := model.ParseDate(to)
	if err != nil {
		return reconcile.Report{}, err
	}
	from := model.FormatDate(toDate.AddDate(0, 0, -syncWindowDays))
	return a.reconciler.SyncAll(ctx, from, to)
}

func (a *app) Close() {
	if a.closeDocs != nil {
		if err := a.closeDocs(); err != nil {
			log.Printf("close remote store: %v", err)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// jobContext bounds background cron jobs.
func jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}
