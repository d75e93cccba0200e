package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"careplanner/internal/model"
)

func newTestRepos(t *testing.T) (*gorm.DB, *TemplateRepository, *RecordRepository) {
	t.Helper()
	feed := NewFeed()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), feed)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db, NewTemplateRepository(db, feed), NewRecordRepository(db, feed, time.UTC)
}

func createTemplate(t *testing.T, repo *TemplateRepository, title string) *model.TaskTemplate {
	t.Helper()
	tpl := &model.TaskTemplate{
		Title:    title,
		Time:     "8:00 AM",
		Category: model.CategoryGeneral,
		IsActive: true,
	}
	if err := repo.Create(context.Background(), tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func TestTemplateDefaults(t *testing.T) {
	_, templates, _ := newTestRepos(t)
	ctx := context.Background()

	tpl := createTemplate(t, templates, "Walk")
	got, err := templates.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Priority != model.PriorityMedium {
		t.Fatalf("priority=%q, want MEDIUM", got.Priority)
	}
	if got.SyncState != model.SyncLocalOnly {
		t.Fatalf("sync state=%q, want local_only", got.SyncState)
	}
	if got.RemoteID != nil {
		t.Fatalf("remote id set before sync")
	}
}

func TestCreateInactiveTemplate(t *testing.T) {
	_, templates, _ := newTestRepos(t)
	ctx := context.Background()

	tpl := &model.TaskTemplate{Title: "Retired", Time: "9:00 AM", Category: model.CategoryGeneral}
	if err := templates.Create(ctx, tpl); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := templates.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsActive {
		t.Fatalf("template created active, want inactive")
	}
}

func TestInsertMissingForDateIsIdempotent(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx := context.Background()

	createTemplate(t, templates, "A")
	createTemplate(t, templates, "B")
	inactive := createTemplate(t, templates, "C")
	if err := templates.SetActive(ctx, inactive.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	n, err := records.InsertMissingForDate(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("InsertMissingForDate: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted %d, want 2", n)
	}
	n, err = records.InsertMissingForDate(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("second InsertMissingForDate: %v", err)
	}
	if n != 0 {
		t.Fatalf("second run inserted %d, want 0", n)
	}

	recs, err := records.ListByDate(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("ListByDate: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
}

func TestUniqueTemplateDate(t *testing.T) {
	db, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")

	inserted, err := records.InsertIfMissing(ctx, tpl.ID, "2024-01-15")
	if err != nil || !inserted {
		t.Fatalf("InsertIfMissing: inserted=%v err=%v", inserted, err)
	}
	inserted, err = records.InsertIfMissing(ctx, tpl.ID, "2024-01-15")
	if err != nil {
		t.Fatalf("InsertIfMissing duplicate: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate insert reported as inserted")
	}

	// A plain insert must be rejected by the store itself.
	dup := model.DailyTaskRecord{TemplateID: tpl.ID, Date: "2024-01-15"}
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique constraint violation")
	}
}

func TestUpsertReplacesCompletion(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")

	now := time.Now()
	rec := &model.DailyTaskRecord{TemplateID: tpl.ID, Date: "2024-01-15", IsCompleted: true, CompletedAt: &now}
	if err := records.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	firstID := rec.ID

	again := &model.DailyTaskRecord{TemplateID: tpl.ID, Date: "2024-01-15"}
	if err := records.Upsert(ctx, again); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if again.ID != firstID {
		t.Fatalf("upsert created a new row: id %d, want %d", again.ID, firstID)
	}
	if again.IsCompleted || again.CompletedAt != nil {
		t.Fatalf("upsert did not replace completion: %+v", again)
	}
}

func TestDeleteCascadesRecords(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")
	keep := createTemplate(t, templates, "B")

	if _, err := records.InsertMissingForDate(ctx, "2024-01-15"); err != nil {
		t.Fatalf("InsertMissingForDate: %v", err)
	}
	if err := templates.Delete(ctx, tpl.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := records.Get(ctx, tpl.ID, "2024-01-15"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record survived template delete: err=%v", err)
	}
	if _, err := records.Get(ctx, keep.ID, "2024-01-15"); err != nil {
		t.Fatalf("unrelated record removed: %v", err)
	}
	if err := templates.Delete(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err=%v, want ErrNotFound", err)
	}
}

func TestResetForDateKeepsRows(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")

	now := time.Now()
	rec := &model.DailyTaskRecord{TemplateID: tpl.ID, Date: "2024-01-15", IsCompleted: true, CompletedAt: &now}
	if err := records.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	n, err := records.ResetForDate(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("ResetForDate: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset %d rows, want 1", n)
	}
	got, err := records.Get(ctx, tpl.ID, "2024-01-15")
	if err != nil {
		t.Fatalf("record deleted by reset: %v", err)
	}
	if got.IsCompleted || got.CompletedAt != nil {
		t.Fatalf("reset left completion: %+v", got)
	}
}

func TestHistoryFlooredAtCreation(t *testing.T) {
	db, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")

	created := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	if err := db.Model(&model.TaskTemplate{}).Where("id = ?", tpl.ID).Update("created_at", created).Error; err != nil {
		t.Fatalf("backdate template: %v", err)
	}
	for _, d := range []string{"2024-01-08", "2024-01-10", "2024-01-12"} {
		if _, err := records.InsertIfMissing(ctx, tpl.ID, d); err != nil {
			t.Fatalf("InsertIfMissing %s: %v", d, err)
		}
	}

	recs, err := records.HistoryForTemplate(ctx, tpl.ID, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("HistoryForTemplate: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Date < "2024-01-10" {
			t.Fatalf("history returned %s before creation date", r.Date)
		}
	}
}

func TestSyncStateTransitions(t *testing.T) {
	_, templates, _ := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")

	if err := templates.SetRemoteID(ctx, tpl.ID, "doc-1", tpl.Revision); err != nil {
		t.Fatalf("SetRemoteID: %v", err)
	}
	unsynced, err := templates.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Fatalf("synced template still listed as unsynced")
	}

	tpl.Title = "A edited"
	if err := templates.Update(ctx, tpl); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := templates.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SyncState != model.SyncStale {
		t.Fatalf("sync state=%q, want stale", got.SyncState)
	}
	if got.RemoteID == nil || *got.RemoteID != "doc-1" {
		t.Fatalf("remote id cleared by local update")
	}
	if err := templates.SetRemoteID(ctx, tpl.ID, "", tpl.Revision); err == nil {
		t.Fatalf("expected error clearing remote id")
	}
}

func TestSetRemoteIDKeepsWritesMadeDuringPush(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")
	if _, err := records.InsertIfMissing(ctx, tpl.ID, "2024-01-15"); err != nil {
		t.Fatalf("InsertIfMissing: %v", err)
	}
	snapshot, err := records.Get(ctx, tpl.ID, "2024-01-15")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Completed after the snapshot was encoded, before the push finished.
	now := time.Now()
	if err := records.SetCompletion(ctx, snapshot.ID, true, &now); err != nil {
		t.Fatalf("SetCompletion: %v", err)
	}
	if err := records.SetRemoteID(ctx, snapshot.ID, "rec-1", snapshot.Revision); err != nil {
		t.Fatalf("SetRemoteID: %v", err)
	}
	got, _ := records.GetByID(ctx, snapshot.ID)
	if got.SyncState != model.SyncStale || got.RemoteID == nil || *got.RemoteID != "rec-1" {
		t.Fatalf("record=%+v, want stale with remote id", got)
	}

	if err := records.SetRemoteID(ctx, got.ID, "rec-1", got.Revision); err != nil {
		t.Fatalf("SetRemoteID: %v", err)
	}
	got, _ = records.GetByID(ctx, snapshot.ID)
	if got.SyncState != model.SyncSynced {
		t.Fatalf("unchanged row not synced: %+v", got)
	}

	stored, _ := templates.Get(ctx, tpl.ID)
	stored.Title = "A edited"
	if err := templates.Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := templates.SetRemoteID(ctx, tpl.ID, "doc-1", tpl.Revision); err != nil {
		t.Fatalf("SetRemoteID: %v", err)
	}
	if after, _ := templates.Get(ctx, tpl.ID); after.SyncState != model.SyncStale {
		t.Fatalf("template edited during push marked %q", after.SyncState)
	}
}

func TestSetRemoteIDOnDeletedRow(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")
	if err := templates.Delete(ctx, tpl.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := templates.SetRemoteID(ctx, tpl.ID, "doc-1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("template SetRemoteID err=%v, want ErrNotFound", err)
	}
	if err := records.SetRemoteID(ctx, 999, "rec-1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record SetRemoteID err=%v, want ErrNotFound", err)
	}
}

func TestApplyRemoteSkipsRowsChangedSinceRead(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx := context.Background()
	tpl := createTemplate(t, templates, "A")
	if _, err := records.InsertIfMissing(ctx, tpl.ID, "2024-01-15"); err != nil {
		t.Fatalf("InsertIfMissing: %v", err)
	}
	read, _ := records.Get(ctx, tpl.ID, "2024-01-15")
	now := time.Now()
	if err := records.SetCompletion(ctx, read.ID, true, &now); err != nil {
		t.Fatalf("SetCompletion: %v", err)
	}

	applied, err := records.ApplyRemote(ctx, read.ID, read.Revision, "rec-1", false, nil)
	if err != nil || applied {
		t.Fatalf("record ApplyRemote applied=%v err=%v, want skipped", applied, err)
	}
	if got, _ := records.GetByID(ctx, read.ID); !got.IsCompleted {
		t.Fatalf("local completion overwritten: %+v", got)
	}

	applied, err = templates.ApplyRemote(ctx, tpl.ID, tpl.Revision, model.TaskTemplate{Title: "Remote", Time: "9:00 AM", IsActive: true})
	if err != nil || !applied {
		t.Fatalf("template ApplyRemote applied=%v err=%v", applied, err)
	}
	if got, _ := templates.Get(ctx, tpl.ID); got.Title != "Remote" || got.SyncState != model.SyncSynced {
		t.Fatalf("template=%+v", got)
	}
}

func TestLegacyMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	if err := legacy.Exec(`CREATE TABLE tasks (id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT, description TEXT, time_block TEXT, time TEXT, category TEXT)`).Error; err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if err := legacy.Exec(`INSERT INTO tasks (title, description, time_block, time, category) VALUES
		('Take Metformin', 'with water', 'MORNING', '8:00 AM', 'MEDICATION'),
		('Evening walk', '', 'EVENING', '6:30 PM', 'EXERCISE')`).Error; err != nil {
		t.Fatalf("seed legacy table: %v", err)
	}
	if sqlDB, err := legacy.DB(); err == nil {
		_ = sqlDB.Close()
	}

	before := time.Now().Add(-time.Second)
	db, err := NewDB(path, nil)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if db.Migrator().HasTable("tasks") {
		t.Fatalf("legacy table not dropped")
	}
	tpls, err := NewTemplateRepository(db, nil).ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(tpls) != 2 {
		t.Fatalf("migrated %d templates, want 2", len(tpls))
	}
	for _, tpl := range tpls {
		if !tpl.IsActive {
			t.Fatalf("migrated template %q inactive", tpl.Title)
		}
		if tpl.CreatedAt.Before(before) {
			t.Fatalf("createdAt %v is not the migration time", tpl.CreatedAt)
		}
	}
	if tpls[0].Category != model.CategoryMedication || tpls[0].Time != "8:00 AM" {
		t.Fatalf("unexpected first template: %+v", tpls[0])
	}
}

func TestSubscribePushesOnWrite(t *testing.T) {
	_, templates, records := newTestRepos(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tpl := createTemplate(t, templates, "A")

	updates := records.Subscribe(ctx, "2024-01-15")
	first := receive(t, updates)
	if len(first) != 0 {
		t.Fatalf("initial result has %d records, want 0", len(first))
	}

	if _, err := records.InsertIfMissing(ctx, tpl.ID, "2024-01-15"); err != nil {
		t.Fatalf("InsertIfMissing: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case recs := <-updates:
			if len(recs) == 1 {
				return
			}
		case <-deadline:
			t.Fatalf("no pushed update after insert")
		}
	}
}

func receive(t *testing.T, ch <-chan []model.DailyTaskRecord) []model.DailyTaskRecord {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscription")
	}
	return nil
}
