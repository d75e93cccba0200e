package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"careplanner/internal/model"
	"careplanner/internal/remote"
	"careplanner/internal/repository"
)

// ErrParentNotSynced means a record was not pushed because its template has no
// remote id yet. The record stays unsynced and is retried on the next pass.
var ErrParentNotSynced = errors.New("parent template not synced")

// reminderArmer keeps reminders in line with templates changed by a pull.
type reminderArmer interface {
	Schedule(tpl model.TaskTemplate) (time.Time, error)
	Cancel(templateID uint) error
}

// Report counts what one SyncAll pass did.
type Report struct {
	TemplatesPulled int
	TemplatesPushed int
	RecordsPulled   int
	RecordsPushed   int
	Skipped         int
	Failed          int
}

// Reconciler mirrors the local stores to and from the owner's remote namespace.
// Local rows are the source of truth; remote failures leave them untouched.
type Reconciler struct {
	owner     string
	docs      remote.Store
	templates *repository.TemplateRepository
	records   *repository.RecordRepository
	armer     reminderArmer

	// mu serializes pushes, pulls and deletes against each other.
	mu sync.Mutex
}

func NewReconciler(owner string, docs remote.Store, templates *repository.TemplateRepository, records *repository.RecordRepository) *Reconciler {
	return &Reconciler{owner: owner, docs: docs, templates: templates, records: records}
}

// SetReminderArmer reschedules templates whose time or active flag arrive by pull.
func (r *Reconciler) SetReminderArmer(a reminderArmer) {
	r.armer = a
}

// PushTemplate creates or replaces the template's remote document and returns its id.
func (r *Reconciler) PushTemplate(ctx context.Context, tpl *model.TaskTemplate) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.pushTemplate(ctx, tpl.ID)
	if err != nil {
		return "", err
	}
	tpl.RemoteID = current.RemoteID
	tpl.SyncState = current.SyncState
	return *current.RemoteID, nil
}

// PushTemplateByID pushes the stored template with id.
func (r *Reconciler) PushTemplateByID(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.pushTemplate(ctx, id)
	return err
}

func (r *Reconciler) pushTemplate(ctx context.Context, id uint) (*model.TaskTemplate, error) {
	tpl, err := r.templates.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", id, err)
	}
	data, err := encodeTemplate(*tpl)
	if err != nil {
		return nil, fmt.Errorf("encode template %d: %w", id, err)
	}

	remoteID, created, err := r.write(ctx, remote.CollectionTemplates, tpl.RemoteID, data)
	if err != nil {
		return nil, fmt.Errorf("push template %d: %w", id, err)
	}
	if err := r.templates.SetRemoteID(ctx, id, remoteID, tpl.Revision); err != nil {
		r.discard(ctx, remote.CollectionTemplates, remoteID, created, err)
		return nil, fmt.Errorf("push template %d: %w", id, err)
	}
	return r.templates.Get(ctx, id)
}

// PushRecord creates or replaces the record's remote document and returns its id.
// The stored row is pushed, not rec, so writes made after rec was read are included.
// It returns ErrParentNotSynced when the template has not been pushed yet.
func (r *Reconciler) PushRecord(ctx context.Context, rec *model.DailyTaskRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.pushRecord(ctx, rec.ID)
	if err != nil {
		return "", err
	}
	*rec = *current
	return *current.RemoteID, nil
}

func (r *Reconciler) pushRecord(ctx context.Context, id uint) (*model.DailyTaskRecord, error) {
	rec, err := r.records.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load record %d: %w", id, err)
	}
	parent, err := r.templates.Get(ctx, rec.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load parent of record %d: %w", id, err)
	}
	if !parent.HasRemote() {
		return nil, ErrParentNotSynced
	}
	data, err := encodeRecord(*rec, *parent.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("encode record %d: %w", id, err)
	}

	remoteID, created, err := r.write(ctx, remote.CollectionRecords, rec.RemoteID, data)
	if err != nil {
		return nil, fmt.Errorf("push record %d: %w", id, err)
	}
	if err := r.records.SetRemoteID(ctx, id, remoteID, rec.Revision); err != nil {
		r.discard(ctx, remote.CollectionRecords, remoteID, created, err)
		return nil, fmt.Errorf("push record %d: %w", id, err)
	}
	return r.records.GetByID(ctx, id)
}

// write replaces the document at remoteID, or creates one when there is none.
func (r *Reconciler) write(ctx context.Context, collection string, remoteID *string, data []byte) (string, bool, error) {
	if remoteID != nil && *remoteID != "" {
		if err := r.docs.Set(ctx, r.owner, collection, *remoteID, data); err != nil {
			return "", false, err
		}
		return *remoteID, false, nil
	}
	id, err := r.docs.Create(ctx, r.owner, collection, data)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// discard removes a document just created for a row that was deleted locally
// while the push was in flight, so a later pull cannot bring the row back.
func (r *Reconciler) discard(ctx context.Context, collection, remoteID string, created bool, cause error) {
	if !created || !errors.Is(cause, repository.ErrNotFound) {
		return
	}
	if err := r.docs.Delete(ctx, r.owner, collection, remoteID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		log.Printf("[warn] drop orphaned remote %s %s: %v", collection, remoteID, err)
	}
}

// PullTemplates merges the owner's remote templates into the local store and
// returns the merged local rows. Stale local rows keep their local values.
// Undecodable documents are logged and skipped.
func (r *Reconciler) PullTemplates(ctx context.Context) ([]model.TaskTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged, _, err := r.pullTemplates(ctx)
	return merged, err
}

func (r *Reconciler) pullTemplates(ctx context.Context) ([]model.TaskTemplate, int, error) {
	docs, err := r.docs.List(ctx, r.owner, remote.CollectionTemplates)
	if err != nil {
		return nil, 0, fmt.Errorf("pull templates: %w", err)
	}

	merged := make([]model.TaskTemplate, 0, len(docs))
	skipped := 0
	for _, doc := range docs {
		pulled, err := decodeTemplate(doc.Data)
		if err != nil {
			log.Printf("[warn] skip remote template %s: %v", doc.ID, err)
			skipped++
			continue
		}
		tpl, err := r.mergeTemplate(ctx, doc.ID, pulled)
		if err != nil {
			log.Printf("[warn] merge remote template %s: %v", doc.ID, err)
			skipped++
			continue
		}
		merged = append(merged, *tpl)
	}
	return merged, skipped, nil
}

func (r *Reconciler) mergeTemplate(ctx context.Context, remoteID string, pulled model.TaskTemplate) (*model.TaskTemplate, error) {
	local, err := r.templates.FindByRemoteID(ctx, remoteID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		pulled.RemoteID = &remoteID
		pulled.SyncState = model.SyncSynced
		if err := r.templates.Create(ctx, &pulled); err != nil {
			return nil, err
		}
		r.arm(pulled)
		return &pulled, nil
	case err != nil:
		return nil, err
	}

	if local.SyncState == model.SyncStale {
		return local, nil
	}
	applied, err := r.templates.ApplyRemote(ctx, local.ID, local.Revision, pulled)
	if err != nil {
		return nil, err
	}
	if !applied {
		return r.templates.Get(ctx, local.ID)
	}
	updated, err := r.templates.Get(ctx, local.ID)
	if err != nil {
		return nil, err
	}
	if updated.Time != local.Time || updated.IsActive != local.IsActive {
		r.arm(*updated)
	}
	return updated, nil
}

func (r *Reconciler) arm(tpl model.TaskTemplate) {
	if r.armer == nil {
		return
	}
	if !tpl.IsActive {
		if err := r.armer.Cancel(tpl.ID); err != nil {
			log.Printf("[warn] %v", err)
		}
		return
	}
	if _, err := r.armer.Schedule(tpl); err != nil {
		log.Printf("[warn] schedule pulled template %d: %v", tpl.ID, err)
	}
}

// PullRecords merges remote records dated within [from, to] into the local
// store. Records whose template is unknown locally are skipped until the
// template itself has been pulled.
func (r *Reconciler) PullRecords(ctx context.Context, from, to string) ([]model.DailyTaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged, _, err := r.pullRecords(ctx, from, to)
	return merged, err
}

func (r *Reconciler) pullRecords(ctx context.Context, from, to string) ([]model.DailyTaskRecord, int, error) {
	docs, err := r.docs.List(ctx, r.owner, remote.CollectionRecords)
	if err != nil {
		return nil, 0, fmt.Errorf("pull records: %w", err)
	}

	parents := make(map[string]uint)
	merged := make([]model.DailyTaskRecord, 0, len(docs))
	skipped := 0
	for _, doc := range docs {
		pulled, err := decodeRecord(doc.Data)
		if err != nil {
			log.Printf("[warn] skip remote record %s: %v", doc.ID, err)
			skipped++
			continue
		}
		if pulled.Date < from || pulled.Date > to {
			continue
		}

		templateID, ok := parents[pulled.TemplateID]
		if !ok {
			parent, err := r.templates.FindByRemoteID(ctx, pulled.TemplateID)
			if err != nil {
				log.Printf("[warn] skip remote record %s: template %s: %v", doc.ID, pulled.TemplateID, err)
				skipped++
				continue
			}
			templateID = parent.ID
			parents[pulled.TemplateID] = templateID
		}

		rec, err := r.mergeRecord(ctx, doc.ID, templateID, pulled)
		if err != nil {
			log.Printf("[warn] merge remote record %s: %v", doc.ID, err)
			skipped++
			continue
		}
		merged = append(merged, *rec)
	}
	return merged, skipped, nil
}

func (r *Reconciler) mergeRecord(ctx context.Context, remoteID string, templateID uint, pulled recordDoc) (*model.DailyTaskRecord, error) {
	local, err := r.records.FindByRemoteID(ctx, remoteID)
	if err == nil {
		if local.SyncState != model.SyncStale {
			if _, err := r.records.ApplyRemote(ctx, local.ID, local.Revision, remoteID, pulled.IsCompleted, pulled.CompletedAt); err != nil {
				return nil, err
			}
		}
		return r.records.GetByID(ctx, local.ID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	rec := model.DailyTaskRecord{
		TemplateID:  templateID,
		Date:        pulled.Date,
		IsCompleted: pulled.IsCompleted,
		CompletedAt: pulled.CompletedAt,
		RemoteID:    &remoteID,
	}
	created, err := r.records.CreatePulled(ctx, &rec)
	if err != nil {
		return nil, err
	}
	if created {
		return r.records.GetByID(ctx, rec.ID)
	}

	// A local row for the same day exists without this remote id: the newer write wins.
	existing, err := r.records.Get(ctx, templateID, pulled.Date)
	if err != nil {
		return nil, err
	}
	applied := false
	if pulled.UpdatedAt.After(existing.UpdatedAt) {
		applied, err = r.records.ApplyRemote(ctx, existing.ID, existing.Revision, remoteID, pulled.IsCompleted, pulled.CompletedAt)
		if err != nil {
			return nil, err
		}
	}
	if !applied {
		if err := r.records.LinkRemoteID(ctx, existing.ID, remoteID); err != nil {
			return nil, err
		}
	}
	return r.records.GetByID(ctx, existing.ID)
}

// DeleteTemplateRemote deletes the template's remote document and every remote
// record that references it. It returns false when the template was never pushed.
func (r *Reconciler) DeleteTemplateRemote(ctx context.Context, tpl *model.TaskTemplate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteTemplateRemote(ctx, tpl)
}

func (r *Reconciler) deleteTemplateRemote(ctx context.Context, tpl *model.TaskTemplate) (bool, error) {
	if !tpl.HasRemote() {
		return false, nil
	}
	remoteID := *tpl.RemoteID

	children, err := r.docs.Query(ctx, r.owner, remote.CollectionRecords, recordTemplateField, remoteID)
	if err != nil {
		return false, fmt.Errorf("query records of template %s: %w", remoteID, err)
	}
	var errs []error
	for _, doc := range children {
		if err := r.docs.Delete(ctx, r.owner, remote.CollectionRecords, doc.ID); err != nil && !errors.Is(err, remote.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete remote record %s: %w", doc.ID, err))
		}
	}
	if err := r.docs.Delete(ctx, r.owner, remote.CollectionTemplates, remoteID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete remote template %s: %w", remoteID, err))
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return true, nil
}

// DeleteTemplate removes the template remotely, then locally with its records.
// The local delete runs even when the remote one fails. It waits for a push in
// flight, so the template's remote id is known before the remote delete.
func (r *Reconciler) DeleteTemplate(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, err := r.templates.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.deleteTemplateRemote(ctx, tpl); err != nil {
		log.Printf("[warn] remote delete of template %d: %v", id, err)
	}
	return r.templates.Delete(ctx, id)
}

// SyncAll runs one full pass: pull templates, push unsynced templates, pull
// records dated within [from, to], push unsynced records. Item failures are
// counted and logged; step failures are joined into the returned error.
func (r *Reconciler) SyncAll(ctx context.Context, from, to string) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var report Report
	var errs []error

	pulled, skipped, err := r.pullTemplates(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.TemplatesPulled = len(pulled)
	report.Skipped += skipped

	tpls, err := r.templates.ListUnsynced(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, tpl := range tpls {
		if _, err := r.pushTemplate(ctx, tpl.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			log.Printf("[warn] %v", err)
			report.Failed++
			continue
		}
		report.TemplatesPushed++
	}

	recs, skipped, err := r.pullRecords(ctx, from, to)
	if err != nil {
		errs = append(errs, err)
	}
	report.RecordsPulled = len(recs)
	report.Skipped += skipped

	unsynced, err := r.records.ListUnsynced(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, rec := range unsynced {
		if _, err := r.pushRecord(ctx, rec.ID); err != nil {
			if errors.Is(err, ErrParentNotSynced) {
				report.Skipped++
				continue
			}
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			log.Printf("[warn] %v", err)
			report.Failed++
			continue
		}
		report.RecordsPushed++
	}

	log.Printf("[info] sync pass: pulled %d templates, %d records; pushed %d templates, %d records; skipped %d, failed %d",
		report.TemplatesPulled, report.RecordsPulled, report.TemplatesPushed, report.RecordsPushed, report.Skipped, report.Failed)
	return report, errors.Join(errs...)
}
