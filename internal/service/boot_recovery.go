package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"careplanner/internal/model"
)

type batchScheduler interface {
	ScheduleAll(tpls []model.TaskTemplate) (int, error)
}

const recoveryTimeout = 30 * time.Second

// BootRecoveryHandler re-arms every active template's reminder after a restart.
type BootRecoveryHandler struct {
	templates activeTemplateLister
	scheduler batchScheduler
}

func NewBootRecoveryHandler(templates activeTemplateLister, scheduler batchScheduler) *BootRecoveryHandler {
	return &BootRecoveryHandler{templates: templates, scheduler: scheduler}
}

// OnSystemRestart runs Recover in the background. The returned channel closes when it is done.
func (h *BootRecoveryHandler) OnSystemRestart() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
		defer cancel()
		if err := h.Recover(ctx); err != nil {
			log.Printf("[warn] boot recovery: %v", err)
		}
	}()
	return done
}

// Recover schedules all active templates. One template failing does not stop the rest.
func (h *BootRecoveryHandler) Recover(ctx context.Context) error {
	tpls, err := h.templates.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active templates: %w", err)
	}
	if len(tpls) == 0 {
		return nil
	}
	scheduled, err := h.scheduler.ScheduleAll(tpls)
	log.Printf("[info] boot recovery scheduled %d of %d reminders", scheduled, len(tpls))
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	return nil
}
