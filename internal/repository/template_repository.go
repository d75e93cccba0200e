package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"careplanner/internal/model"
)

// TemplateRepository persists task templates. It carries no business rules.
const templatesTable = "task_templates"

type TemplateRepository struct {
	db   *gorm.DB
	feed *Feed
}

func NewTemplateRepository(db *gorm.DB, feed *Feed) *TemplateRepository {
	return &TemplateRepository{db: db, feed: feed}
}

func (r *TemplateRepository) Create(ctx context.Context, tpl *model.TaskTemplate) error {
	active := tpl.IsActive
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tpl).Error; err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		// gorm skips zero values that have a column default.
		if !active {
			if err := tx.Model(tpl).Update("is_active", false).Error; err != nil {
				return fmt.Errorf("create inactive template: %w", err)
			}
			tpl.IsActive = false
		}
		return nil
	})
}

func (r *TemplateRepository) Get(ctx context.Context, id uint) (*model.TaskTemplate, error) {
	var tpl model.TaskTemplate
	if err := r.db.WithContext(ctx).First(&tpl, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &tpl, nil
}

func (r *TemplateRepository) FindByRemoteID(ctx context.Context, remoteID string) (*model.TaskTemplate, error) {
	var tpl model.TaskTemplate
	if err := r.db.WithContext(ctx).Where("remote_id = ?", remoteID).First(&tpl).Error; err != nil {
		return nil, notFound(err)
	}
	return &tpl, nil
}

// Update writes the editable fields of tpl. remote_id is left untouched.
func (r *TemplateRepository) Update(ctx context.Context, tpl *model.TaskTemplate) error {
	res := r.db.WithContext(ctx).Model(&model.TaskTemplate{}).Where("id = ?", tpl.ID).Updates(map[string]interface{}{
		"title":       tpl.Title,
		"description": tpl.Description,
		"time_block":  tpl.TimeBlock,
		"time":        tpl.Time,
		"category":    tpl.Category,
		"priority":    tpl.Priority,
		"is_active":   tpl.IsActive,
		"sync_state":  localMutationState(),
		"revision":    nextRevision(templatesTable),
	})
	if res.Error != nil {
		return fmt.Errorf("update template: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyRemote overwrites local fields with a pulled copy and marks the row synced.
// It returns false, leaving the row alone, when it has changed locally since
// revision was read.
func (r *TemplateRepository) ApplyRemote(ctx context.Context, id uint, revision int64, remote model.TaskTemplate) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.TaskTemplate{}).Where("id = ? AND revision = ?", id, revision).Updates(map[string]interface{}{
		"title":       remote.Title,
		"description": remote.Description,
		"time_block":  remote.TimeBlock,
		"time":        remote.Time,
		"category":    remote.Category,
		"priority":    remote.Priority,
		"is_active":   remote.IsActive,
		"sync_state":  model.SyncSynced,
	})
	if res.Error != nil {
		return false, fmt.Errorf("apply remote template: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *TemplateRepository) SetActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&model.TaskTemplate{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":  active,
		"sync_state": localMutationState(),
		"revision":   nextRevision(templatesTable),
	})
	if res.Error != nil {
		return fmt.Errorf("set template active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the template and all of its daily records.
func (r *TemplateRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", id).Delete(&model.DailyTaskRecord{}).Error; err != nil {
			return fmt.Errorf("delete template records: %w", err)
		}
		res := tx.Delete(&model.TaskTemplate{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete template: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *TemplateRepository) ListActive(ctx context.Context) ([]model.TaskTemplate, error) {
	var tpls []model.TaskTemplate
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&tpls).Error; err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	return tpls, nil
}

func (r *TemplateRepository) ListAll(ctx context.Context) ([]model.TaskTemplate, error) {
	var tpls []model.TaskTemplate
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&tpls).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tpls, nil
}

// ListUnsynced returns templates that are local-only or stale.
func (r *TemplateRepository) ListUnsynced(ctx context.Context) ([]model.TaskTemplate, error) {
	var tpls []model.TaskTemplate
	if err := r.db.WithContext(ctx).Where("sync_state <> ?", model.SyncSynced).Order("id ASC").Find(&tpls).Error; err != nil {
		return nil, fmt.Errorf("list unsynced templates: %w", err)
	}
	return tpls, nil
}

// SetRemoteID records the remote document id after a push of the snapshot at
// revision. The row is marked synced unless it was written locally meanwhile.
// An existing remote id is never cleared. ErrNotFound means the row is gone.
func (r *TemplateRepository) SetRemoteID(ctx context.Context, id uint, remoteID string, revision int64) error {
	if remoteID == "" {
		return fmt.Errorf("set template remote id: empty id")
	}
	res := r.db.WithContext(ctx).Model(&model.TaskTemplate{}).Where("id = ?", id).Updates(map[string]interface{}{
		"remote_id":  remoteID,
		"sync_state": syncedIfUnchanged(revision),
	})
	if res.Error != nil {
		return fmt.Errorf("set template remote id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SubscribeActive streams the active template list, refreshed after every template write.
func (r *TemplateRepository) SubscribeActive(ctx context.Context) <-chan []model.TaskTemplate {
	return subscribe(ctx, r.feed, model.TaskTemplate{}.TableName(), r.ListActive)
}
