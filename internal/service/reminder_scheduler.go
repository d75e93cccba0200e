package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"careplanner/internal/model"
)

// ErrExactAlarmDenied is returned when the platform withholds exact-alarm
// authorization. The reminder is not scheduled; the next Schedule call retries.
var ErrExactAlarmDenied = errors.New("exact alarm permission denied")

// parseFallback is how far ahead a reminder lands when its time cannot be parsed.
const parseFallback = time.Hour

// ReminderScheduler arms one wall-clock reminder per template, always for the
// next upcoming occurrence of the template's time of day.
type ReminderScheduler struct {
	alarms AlarmFacility
	loc    *time.Location
	now    func() time.Time
}

func NewReminderScheduler(alarms AlarmFacility, loc *time.Location) *ReminderScheduler {
	if loc == nil {
		loc = time.Local
	}
	return &ReminderScheduler{alarms: alarms, loc: loc, now: time.Now}
}

// Schedule registers or replaces the alarm for tpl and returns its trigger instant.
func (s *ReminderScheduler) Schedule(tpl model.TaskTemplate) (time.Time, error) {
	switch s.alarms.ExactAlarmCapability() {
	case CapabilityDenied:
		log.Printf("[warn] reminder for template %d not scheduled: %v", tpl.ID, ErrExactAlarmDenied)
		return time.Time{}, ErrExactAlarmDenied
	case CapabilityGranted, CapabilityUnsupported:
		// no gate, or the user allowed it
	}

	now := s.now().In(s.loc)
	at, err := NextTrigger(tpl.Time, now)
	if err != nil {
		log.Printf("[warn] template %d: %v; reminding in %s", tpl.ID, err, parseFallback)
	}

	payload := tpl.Payload()
	if s.alarms.SupportsIdleTolerant() {
		err = s.alarms.SetExactAndAllowWhileIdle(tpl.ID, at, payload)
	} else {
		err = s.alarms.SetExact(tpl.ID, at, payload)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("set alarm for template %d: %w", tpl.ID, err)
	}
	log.Printf("[info] reminder for template %d set at %s", tpl.ID, at.Format(time.RFC3339))
	return at, nil
}

// ScheduleAll schedules every template, continuing past individual failures.
// It returns how many were scheduled and the joined failures.
func (s *ReminderScheduler) ScheduleAll(tpls []model.TaskTemplate) (int, error) {
	var errs []error
	scheduled := 0
	for _, tpl := range tpls {
		if _, err := s.Schedule(tpl); err != nil {
			errs = append(errs, err)
			continue
		}
		scheduled++
	}
	return scheduled, errors.Join(errs...)
}

// Cancel removes the template's alarm; a template without one is a no-op.
func (s *ReminderScheduler) Cancel(templateID uint) error {
	if err := s.alarms.Cancel(templateID); err != nil {
		return fmt.Errorf("cancel alarm for template %d: %w", templateID, err)
	}
	return nil
}

func (s *ReminderScheduler) CancelAll(templateIDs []uint) error {
	var errs []error
	for _, id := range templateIDs {
		if err := s.Cancel(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NextTrigger returns the next instant after now at clock's hour and minute,
// today if still ahead, else tomorrow. An unparseable clock yields now plus one
// hour together with the parse error.
func NextTrigger(clock string, now time.Time) (time.Time, error) {
	hour, minute, err := model.ParseClock(clock)
	if err != nil {
		return now.Add(parseFallback), err
	}
	y, m, d := now.Date()
	at := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if !at.After(now) {
		at = time.Date(y, m, d+1, hour, minute, 0, 0, now.Location())
	}
	return at, nil
}
