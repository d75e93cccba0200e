package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"careplanner/internal/model"
)

// RecordRepository persists daily task records. The (template_id, date)
// unique index is the only guard against duplicates; inserts rely on it.
type RecordRepository struct {
	db   *gorm.DB
	feed *Feed
	loc  *time.Location
}

func NewRecordRepository(db *gorm.DB, feed *Feed, loc *time.Location) *RecordRepository {
	if loc == nil {
		loc = time.Local
	}
	return &RecordRepository{db: db, feed: feed, loc: loc}
}

const recordsTable = "daily_task_records"

var templateDateConflict = []clause.Column{{Name: "template_id"}, {Name: "date"}}

func (r *RecordRepository) Get(ctx context.Context, templateID uint, date string) (*model.DailyTaskRecord, error) {
	var rec model.DailyTaskRecord
	if err := r.db.WithContext(ctx).Where("template_id = ? AND date = ?", templateID, date).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id uint) (*model.DailyTaskRecord, error) {
	var rec model.DailyTaskRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *RecordRepository) FindByRemoteID(ctx context.Context, remoteID string) (*model.DailyTaskRecord, error) {
	var rec model.DailyTaskRecord
	if err := r.db.WithContext(ctx).Where("remote_id = ?", remoteID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *RecordRepository) ListByDate(ctx context.Context, date string) ([]model.DailyTaskRecord, error) {
	var recs []model.DailyTaskRecord
	if err := r.db.WithContext(ctx).Where("date = ?", date).Order("template_id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records for %s: %w", date, err)
	}
	return recs, nil
}

// ListByRange returns records with from <= date <= to.
func (r *RecordRepository) ListByRange(ctx context.Context, from, to string) ([]model.DailyTaskRecord, error) {
	var recs []model.DailyTaskRecord
	if err := r.db.WithContext(ctx).Where("date >= ? AND date <= ?", from, to).
		Order("date ASC, template_id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records %s..%s: %w", from, to, err)
	}
	return recs, nil
}

// InsertMissingForDate creates an open record for every active template that
// has none for date, in a single statement. It returns the number inserted.
func (r *RecordRepository) InsertMissingForDate(ctx context.Context, date string) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Exec(`INSERT INTO daily_task_records (template_id, date, is_completed, sync_state, updated_at)
		SELECT t.id, ?, ?, ?, ? FROM task_templates t
		WHERE t.is_active = ?
		AND t.id NOT IN (SELECT d.template_id FROM daily_task_records d WHERE d.date = ?)
		ON CONFLICT (template_id, date) DO NOTHING`,
		date, false, model.SyncLocalOnly, now, true, date)
	if res.Error != nil {
		return 0, fmt.Errorf("insert missing records for %s: %w", date, res.Error)
	}
	return res.RowsAffected, nil
}

// InsertIfMissing creates an open record for (templateID, date) unless one exists.
func (r *RecordRepository) InsertIfMissing(ctx context.Context, templateID uint, date string) (bool, error) {
	rec := model.DailyTaskRecord{TemplateID: templateID, Date: date}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: templateDateConflict, DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, fmt.Errorf("insert record %d/%s: %w", templateID, date, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Upsert inserts rec or replaces the completion state of the existing
// (template_id, date) row. rec is reloaded from the store afterwards.
func (r *RecordRepository) Upsert(ctx context.Context, rec *model.DailyTaskRecord) error {
	db := r.db.WithContext(ctx)
	completed := rec.IsCompleted
	err := db.Clauses(clause.OnConflict{
		Columns: templateDateConflict,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_completed": completed,
			"completed_at": rec.CompletedAt,
			"sync_state":   localMutationState(),
			"revision":     nextRevision(recordsTable),
			"updated_at":   time.Now(),
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert record %d/%s: %w", rec.TemplateID, rec.Date, err)
	}
	stored, err := r.Get(ctx, rec.TemplateID, rec.Date)
	if err != nil {
		return fmt.Errorf("reload record %d/%s: %w", rec.TemplateID, rec.Date, err)
	}
	*rec = *stored
	return nil
}

// SetCompletion updates an existing record's completion state and timestamp.
func (r *RecordRepository) SetCompletion(ctx context.Context, id uint, completed bool, completedAt *time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.DailyTaskRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_completed": completed,
		"completed_at": completedAt,
		"sync_state":   localMutationState(),
		"revision":     nextRevision(recordsTable),
	})
	if res.Error != nil {
		return fmt.Errorf("set record completion: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyRemote overwrites completion state with a pulled copy and marks the row
// synced. It returns false, leaving the row alone, when it has changed locally
// since revision was read.
func (r *RecordRepository) ApplyRemote(ctx context.Context, id uint, revision int64, remoteID string, completed bool, completedAt *time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.DailyTaskRecord{}).Where("id = ? AND revision = ?", id, revision).Updates(map[string]interface{}{
		"is_completed": completed,
		"completed_at": completedAt,
		"remote_id":    remoteID,
		"sync_state":   model.SyncSynced,
	})
	if res.Error != nil {
		return false, fmt.Errorf("apply remote record: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// LinkRemoteID attaches a remote id to a row whose local state should win.
// The row is marked stale so the next push overwrites the remote copy.
func (r *RecordRepository) LinkRemoteID(ctx context.Context, id uint, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("link record remote id: empty id")
	}
	err := r.db.WithContext(ctx).Model(&model.DailyTaskRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"remote_id":  remoteID,
		"sync_state": model.SyncStale,
	}).Error
	if err != nil {
		return fmt.Errorf("link record remote id: %w", err)
	}
	return nil
}

// CreatePulled inserts a record received from the remote store. It returns
// false when a row for (template_id, date) already exists.
func (r *RecordRepository) CreatePulled(ctx context.Context, rec *model.DailyTaskRecord) (bool, error) {
	rec.SyncState = model.SyncSynced
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: templateDateConflict, DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("create pulled record %d/%s: %w", rec.TemplateID, rec.Date, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ResetForDate clears completion on every record for date. Rows are kept.
func (r *RecordRepository) ResetForDate(ctx context.Context, date string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.DailyTaskRecord{}).Where("date = ?", date).Updates(map[string]interface{}{
		"is_completed": false,
		"completed_at": nil,
		"sync_state":   localMutationState(),
		"revision":     nextRevision(recordsTable),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("reset records for %s: %w", date, res.Error)
	}
	return res.RowsAffected, nil
}

// HistoryForTemplate lists a template's records in [from, to]. The range never
// starts before the calendar day the template was created.
func (r *RecordRepository) HistoryForTemplate(ctx context.Context, templateID uint, from, to string) ([]model.DailyTaskRecord, error) {
	var tpl model.TaskTemplate
	db := r.db.WithContext(ctx)
	if err := db.Select("id", "created_at").First(&tpl, templateID).Error; err != nil {
		return nil, notFound(err)
	}
	floor := model.FormatDate(tpl.CreatedAt.In(r.loc))
	if from < floor {
		from = floor
	}

	var recs []model.DailyTaskRecord
	if err := db.Where("template_id = ? AND date >= ? AND date <= ?", templateID, from, to).
		Order("date ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("template history: %w", err)
	}
	return recs, nil
}

// CountForDate returns how many records for date are completed, and how many exist.
func (r *RecordRepository) CountForDate(ctx context.Context, date string) (completed, total int64, err error) {
	db := r.db.WithContext(ctx).Model(&model.DailyTaskRecord{})
	if err := db.Where("date = ?", date).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count records: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&model.DailyTaskRecord{}).
		Where("date = ? AND is_completed = ?", date, true).Count(&completed).Error; err != nil {
		return 0, 0, fmt.Errorf("count completed records: %w", err)
	}
	return completed, total, nil
}

func (r *RecordRepository) ListUnsynced(ctx context.Context) ([]model.DailyTaskRecord, error) {
	var recs []model.DailyTaskRecord
	if err := r.db.WithContext(ctx).Where("sync_state <> ?", model.SyncSynced).
		Order("date ASC, template_id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list unsynced records: %w", err)
	}
	return recs, nil
}

// SetRemoteID records the remote document id after a push of the snapshot at
// revision. The row is marked synced unless it was written locally meanwhile.
// ErrNotFound means the row is gone.
func (r *RecordRepository) SetRemoteID(ctx context.Context, id uint, remoteID string, revision int64) error {
	if remoteID == "" {
		return fmt.Errorf("set record remote id: empty id")
	}
	res := r.db.WithContext(ctx).Model(&model.DailyTaskRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"remote_id":  remoteID,
		"sync_state": syncedIfUnchanged(revision),
	})
	if res.Error != nil {
		return fmt.Errorf("set record remote id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscribe streams the records for date, refreshed after every record write.
func (r *RecordRepository) Subscribe(ctx context.Context, date string) <-chan []model.DailyTaskRecord {
	return subscribe(ctx, r.feed, model.DailyTaskRecord{}.TableName(), func(ctx context.Context) ([]model.DailyTaskRecord, error) {
		return r.ListByDate(ctx, date)
	})
}
