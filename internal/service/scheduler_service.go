package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// dailyLayout is the 24-hour clock used for recurring job times.
const dailyLayout = "15:04"

// SchedulerService wraps the cron runner shared by periodic jobs and reminder alarms.
type SchedulerService struct {
	cron *cron.Cron
}

// NewSchedulerService builds a runner evaluating daily specs in loc, or the
// local zone when loc is nil.
func NewSchedulerService(loc *time.Location) *SchedulerService {
	if loc == nil {
		loc = time.Local
	}
	return &SchedulerService{cron: cron.New(cron.WithLocation(loc), cron.WithSeconds())}
}

// ScheduleDaily registers a job firing every day at clock (HH:MM).
func (s *SchedulerService) ScheduleDaily(clock string, job func()) (cron.EntryID, error) {
	spec, err := buildDailySpec(clock)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, job)
}

// ScheduleInterval registers a job repeating every interval, rounded to whole seconds.
func (s *SchedulerService) ScheduleInterval(interval time.Duration, job func()) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return s.cron.Schedule(cron.Every(interval), cron.FuncJob(job)), nil
}

// ScheduleOnce registers a job that runs a single time at the given instant.
func (s *SchedulerService) ScheduleOnce(at time.Time, job func()) cron.EntryID {
	return s.cron.Schedule(onceSchedule{at: at}, cron.FuncJob(job))
}

// Remove drops an entry. Unknown ids are ignored.
func (s *SchedulerService) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop halts the runner and waits for running jobs to return.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

// onceSchedule fires at a fixed instant and never again.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// buildDailySpec turns "HH:MM" into a seconds-resolution cron spec.
func buildDailySpec(clock string) (string, error) {
	t, err := time.Parse(dailyLayout, clock)
	if err != nil {
		return "", fmt.Errorf("invalid daily time %q, expected HH:MM: %w", clock, err)
	}
	return fmt.Sprintf("0 %d %d * * *", t.Minute(), t.Hour()), nil
}
