package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"careplanner/internal/model"
	"careplanner/internal/repository"
)

// TemplateInput represents data required to create or edit a template.
type TemplateInput struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description,omitempty"`
	Time        string `json:"time" yaml:"time"`
	TimeBlock   string `json:"timeBlock" yaml:"time_block,omitempty"`
	Category    string `json:"category" yaml:"category,omitempty"`
	Priority    string `json:"priority" yaml:"priority,omitempty"`
}

// TemplateMirror pushes template changes to the remote store.
type TemplateMirror interface {
	PushTemplateByID(ctx context.Context, id uint) error
	DeleteTemplate(ctx context.Context, id uint) error
}

// ErrInvalidTemplate wraps validation failures of TemplateInput.
var ErrInvalidTemplate = errors.New("invalid template")

const mirrorTimeout = 30 * time.Second

// TemplateService wraps template lifecycle: persistence, reminders and mirroring.
type TemplateService struct {
	templates *repository.TemplateRepository
	scheduler *ReminderScheduler
	mirror    TemplateMirror
}

func NewTemplateService(templates *repository.TemplateRepository, scheduler *ReminderScheduler) *TemplateService {
	return &TemplateService{templates: templates, scheduler: scheduler}
}

// SetMirror enables background pushes after every change. Nil disables them.
func (s *TemplateService) SetMirror(m TemplateMirror) {
	s.mirror = m
}

func (s *TemplateService) Create(ctx context.Context, input TemplateInput) (*model.TaskTemplate, error) {
	tpl := model.TaskTemplate{IsActive: true}
	if err := applyInput(&tpl, input); err != nil {
		return nil, err
	}
	if err := s.templates.Create(ctx, &tpl); err != nil {
		return nil, err
	}
	s.arm(tpl)
	s.pushAsync(tpl.ID)
	return &tpl, nil
}

func (s *TemplateService) Update(ctx context.Context, id uint, input TemplateInput) (*model.TaskTemplate, error) {
	tpl, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyInput(tpl, input); err != nil {
		return nil, err
	}
	if err := s.templates.Update(ctx, tpl); err != nil {
		return nil, err
	}
	s.arm(*tpl)
	s.pushAsync(tpl.ID)
	return tpl, nil
}

// SetActive retires or revives a template. Retired templates keep their history
// but get no new records and no reminder.
func (s *TemplateService) SetActive(ctx context.Context, id uint, active bool) (*model.TaskTemplate, error) {
	if err := s.templates.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	tpl, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.arm(*tpl)
	s.pushAsync(id)
	return tpl, nil
}

// Delete cancels the reminder and removes the template with its records,
// remotely first when mirroring is on.
func (s *TemplateService) Delete(ctx context.Context, id uint) error {
	if err := s.scheduler.Cancel(id); err != nil {
		log.Printf("[warn] %v", err)
	}
	if s.mirror != nil {
		return s.mirror.DeleteTemplate(ctx, id)
	}
	return s.templates.Delete(ctx, id)
}

func (s *TemplateService) Get(ctx context.Context, id uint) (*model.TaskTemplate, error) {
	return s.templates.Get(ctx, id)
}

func (s *TemplateService) List(ctx context.Context, includeInactive bool) ([]model.TaskTemplate, error) {
	if includeInactive {
		return s.templates.ListAll(ctx)
	}
	return s.templates.ListActive(ctx)
}

// arm keeps the reminder in line with the template's active flag.
func (s *TemplateService) arm(tpl model.TaskTemplate) {
	if !tpl.IsActive {
		if err := s.scheduler.Cancel(tpl.ID); err != nil {
			log.Printf("[warn] %v", err)
		}
		return
	}
	if _, err := s.scheduler.Schedule(tpl); err != nil && !errors.Is(err, ErrExactAlarmDenied) {
		log.Printf("[warn] schedule template %d: %v", tpl.ID, err)
	}
}

func (s *TemplateService) pushAsync(id uint) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.PushTemplateByID(ctx, id); err != nil {
			log.Printf("[warn] push template %d: %v", id, err)
		}
	}()
}

func applyInput(tpl *model.TaskTemplate, input TemplateInput) error {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTemplate)
	}
	clock := strings.TrimSpace(input.Time)
	hour, minute, err := model.ParseClock(clock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	category, err := model.ParseCategory(input.Category)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	priority, err := model.ParsePriority(input.Priority)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	// Normalise to "h:mm AM" so stored times all parse the same way.
	normalized := time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format(model.TimeLayout)
	block := model.TimeBlock(strings.ToUpper(strings.TrimSpace(input.TimeBlock)))
	if !block.Valid() {
		block = model.DeriveTimeBlock(normalized)
	}

	tpl.Title = title
	tpl.Description = strings.TrimSpace(input.Description)
	tpl.Time = normalized
	tpl.TimeBlock = block
	tpl.Category = category
	tpl.Priority = priority
	return nil
}
