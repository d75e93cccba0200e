package service

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"careplanner/internal/model"
)

// Capability is the platform's answer to "may this app set exact alarms".
type Capability int

const (
	// CapabilityUnsupported means the platform has no exact-alarm permission gate.
	CapabilityUnsupported Capability = iota
	CapabilityGranted
	CapabilityDenied
)

func (c Capability) String() string {
	switch c {
	case CapabilityGranted:
		return "granted"
	case CapabilityDenied:
		return "denied"
	default:
		return "unsupported"
	}
}

// ParseCapability maps configuration values to a Capability.
func ParseCapability(raw string) Capability {
	switch raw {
	case "granted":
		return CapabilityGranted
	case "denied":
		return CapabilityDenied
	default:
		return CapabilityUnsupported
	}
}

// AlarmFacility is the platform alarm table. Registering a key that already
// has an alarm replaces it.
type AlarmFacility interface {
	ExactAlarmCapability() Capability
	SupportsIdleTolerant() bool
	SetExactAndAllowWhileIdle(key uint, at time.Time, payload model.FiringPayload) error
	SetExact(key uint, at time.Time, payload model.FiringPayload) error
	Cancel(key uint) error
}

// FireFunc receives the payload of an alarm when it goes off.
type FireFunc func(model.FiringPayload)

// CronAlarms keeps one one-shot cron entry per template id.
type CronAlarms struct {
	sched      *SchedulerService
	capability Capability

	mu      sync.Mutex
	entries map[uint]alarmEntry
	fire    FireFunc
}

type alarmEntry struct {
	id cron.EntryID
	at time.Time
}

func NewCronAlarms(sched *SchedulerService, capability Capability) *CronAlarms {
	return &CronAlarms{
		sched:      sched,
		capability: capability,
		entries:    make(map[uint]alarmEntry),
	}
}

// OnFire sets the handler invoked when any alarm fires.
func (a *CronAlarms) OnFire(f FireFunc) {
	a.mu.Lock()
	a.fire = f
	a.mu.Unlock()
}

func (a *CronAlarms) ExactAlarmCapability() Capability {
	return a.capability
}

// SupportsIdleTolerant is always true: cron timers are not deferred by device idle.
func (a *CronAlarms) SupportsIdleTolerant() bool {
	return true
}

func (a *CronAlarms) SetExactAndAllowWhileIdle(key uint, at time.Time, payload model.FiringPayload) error {
	a.set(key, at, payload)
	return nil
}

func (a *CronAlarms) SetExact(key uint, at time.Time, payload model.FiringPayload) error {
	a.set(key, at, payload)
	return nil
}

func (a *CronAlarms) Cancel(key uint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[key]; ok {
		a.sched.Remove(e.id)
		delete(a.entries, key)
	}
	return nil
}

// Next reports when key's alarm will fire.
func (a *CronAlarms) Next(key uint) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	return e.at, ok
}

// Len returns the number of pending alarms.
func (a *CronAlarms) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *CronAlarms) set(key uint, at time.Time, payload model.FiringPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.entries[key]; ok {
		a.sched.Remove(old.id)
	}

	var id cron.EntryID
	id = a.sched.ScheduleOnce(at, func() {
		a.mu.Lock()
		current, ok := a.entries[key]
		if ok && current.id == id {
			delete(a.entries, key)
		}
		fire := a.fire
		a.mu.Unlock()

		a.sched.Remove(id)
		if ok && current.id == id && fire != nil {
			fire(payload)
		}
	})
	a.entries[key] = alarmEntry{id: id, at: at}
}
