package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"careplanner/internal/model"
	"careplanner/internal/repository"
)

type testStores struct {
	templates *repository.TemplateRepository
	records   *repository.RecordRepository
}

func newTestStores(t *testing.T) testStores {
	t.Helper()
	feed := repository.NewFeed()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"), feed)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return testStores{
		templates: repository.NewTemplateRepository(db, feed),
		records:   repository.NewRecordRepository(db, feed, time.UTC),
	}
}

func (s testStores) addTemplate(t *testing.T, title, clock string) *model.TaskTemplate {
	t.Helper()
	tpl := &model.TaskTemplate{
		Title:     title,
		Time:      clock,
		TimeBlock: model.DeriveTimeBlock(clock),
		Category:  model.CategoryGeneral,
		IsActive:  true,
	}
	if err := s.templates.Create(context.Background(), tpl); err != nil {
		t.Fatalf("create template %q: %v", title, err)
	}
	return tpl
}

// fakeAlarms is an in-memory alarm table that records which primitive was used.
type fakeAlarms struct {
	mu           sync.Mutex
	capability   Capability
	idleTolerant bool
	alarms       map[uint]time.Time
	exactCalls   int
	idleCalls    int
	failFor      map[uint]bool
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{
		capability:   CapabilityGranted,
		idleTolerant: true,
		alarms:       make(map[uint]time.Time),
		failFor:      make(map[uint]bool),
	}
}

func (f *fakeAlarms) ExactAlarmCapability() Capability { return f.capability }

func (f *fakeAlarms) SupportsIdleTolerant() bool { return f.idleTolerant }

func (f *fakeAlarms) SetExactAndAllowWhileIdle(key uint, at time.Time, _ model.FiringPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idleCalls++
	return f.put(key, at)
}

func (f *fakeAlarms) SetExact(key uint, at time.Time, _ model.FiringPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exactCalls++
	return f.put(key, at)
}

func (f *fakeAlarms) put(key uint, at time.Time) error {
	if f.failFor[key] {
		return errAlarmBroken
	}
	f.alarms[key] = at
	return nil
}

func (f *fakeAlarms) Cancel(key uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alarms, key)
	return nil
}

func (f *fakeAlarms) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alarms)
}

func (f *fakeAlarms) at(key uint) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.alarms[key]
	return at, ok
}

type alarmError string

func (e alarmError) Error() string { return string(e) }

const errAlarmBroken = alarmError("alarm facility unavailable")
