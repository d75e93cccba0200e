package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"careplanner/internal/model"
	"careplanner/internal/repository"
	"careplanner/internal/service"
)

type templateGetter interface {
	Get(ctx context.Context, id uint) (*model.TaskTemplate, error)
}

type rearmer interface {
	Schedule(tpl model.TaskTemplate) (time.Time, error)
}

const fireTimeout = 20 * time.Second

// Dispatcher handles fired alarms: it renders the reminder, delivers it and
// arms the template's next occurrence.
type Dispatcher struct {
	notifier  Notifier
	content   *service.ContentGenerator
	templates templateGetter
	scheduler rearmer
	today     func() string
}

func NewDispatcher(notifier Notifier, content *service.ContentGenerator, templates templateGetter, scheduler rearmer, today func() string) *Dispatcher {
	return &Dispatcher{
		notifier:  notifier,
		content:   content,
		templates: templates,
		scheduler: scheduler,
		today:     today,
	}
}

// Build renders a payload without touching storage.
func (d *Dispatcher) Build(payload model.FiringPayload) Message {
	return Message{
		TemplateID: payload.TemplateID,
		Date:       d.today(),
		Priority:   payload.Priority,
		Kind:       d.content.Classify(payload.Title),
		Content:    d.content.BuildDisplayContent(payload.Title, payload.Description),
		Spoken:     d.content.BuildSpokenMessage(payload.Title),
	}
}

// Fire delivers the reminder, then re-arms. A delivery failure does not stop
// the re-arm; a template that is gone or retired is not re-armed.
func (d *Dispatcher) Fire(payload model.FiringPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, d.Build(payload)); err != nil {
		log.Printf("[warn] deliver reminder for template %d: %v", payload.TemplateID, err)
	}
	d.rearm(ctx, payload.TemplateID)
}

func (d *Dispatcher) rearm(ctx context.Context, templateID uint) {
	tpl, err := d.templates.Get(ctx, templateID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[info] template %d is gone; reminder not re-armed", templateID)
		return
	}
	if err != nil {
		log.Printf("[warn] reload template %d: %v", templateID, err)
		return
	}
	if !tpl.IsActive {
		return
	}
	if _, err := d.scheduler.Schedule(*tpl); err != nil && !errors.Is(err, service.ErrExactAlarmDenied) {
		log.Printf("[warn] re-arm template %d: %v", templateID, err)
	}
}
