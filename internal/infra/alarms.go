package infra

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// alarmRecheck caps how long a timer sleeps before comparing the wall clock
// against the due time. Go timers do not advance while the host is suspended.
const alarmRecheck = time.Minute

type alarm struct {
	when  time.Time
	timer *time.Timer
}

// TimerAlarms implements domain.AlarmScheduler with in-memory timers.
// When an alarm is due, fire is called with its name from the timer goroutine;
// the daemon hands it to the event loop.
type TimerAlarms struct {
	mu      sync.Mutex
	alarms  map[string]*alarm
	fire    func(name string)
	now     func() time.Time
	recheck time.Duration
	logger  *zap.Logger
}

// NewTimerAlarms creates an alarm scheduler that calls fire on expiry.
func NewTimerAlarms(fire func(name string), logger *zap.Logger) *TimerAlarms {
	return NewTimerAlarmsWithClock(fire, SystemClock{}, logger)
}

// NewTimerAlarmsWithClock creates an alarm scheduler that judges due times by clock.
func NewTimerAlarmsWithClock(fire func(name string), clock domain.Clock, logger *zap.Logger) *TimerAlarms {
	return &TimerAlarms{
		alarms:  make(map[string]*alarm),
		fire:    fire,
		now:     clock.Now,
		recheck: alarmRecheck,
		logger:  logger,
	}
}

// Create schedules name at when, replacing an existing alarm of the same name.
// A time in the past fires immediately.
func (a *TimerAlarms) Create(name string, when time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.alarms[name]; ok {
		existing.timer.Stop()
	}

	entry := &alarm{when: when}
	a.alarms[name] = entry
	delay := a.arm(name, entry)

	a.logger.Debug("alarm scheduled",
		zap.String("name", name),
		zap.Time("when", when),
		zap.Duration("in", delay))
}

// arm starts entry's timer for at most one recheck interval. Caller holds mu.
func (a *TimerAlarms) arm(name string, entry *alarm) time.Duration {
	delay := entry.when.Sub(a.now())
	if delay < 0 {
		delay = 0
	}
	if delay > a.recheck {
		delay = a.recheck
	}
	entry.timer = time.AfterFunc(delay, func() { a.expire(name, entry) })
	return delay
}

func (a *TimerAlarms) expire(name string, entry *alarm) {
	a.mu.Lock()
	current, ok := a.alarms[name]
	if !ok || current != entry {
		// Replaced or cleared after the timer had already fired.
		a.mu.Unlock()
		return
	}
	if a.now().Before(entry.when) {
		a.arm(name, entry)
		a.mu.Unlock()
		return
	}
	delete(a.alarms, name)
	a.mu.Unlock()

	a.logger.Info("alarm fired", zap.String("name", name))
	a.fire(name)
}

// Clear cancels the named alarm.
func (a *TimerAlarms) Clear(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.alarms[name]
	if !ok {
		return false
	}
	existing.timer.Stop()
	delete(a.alarms, name)
	return true
}

// Scheduled returns when the named alarm is due.
func (a *TimerAlarms) Scheduled(name string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.alarms[name]
	if !ok {
		return time.Time{}, false
	}
	return existing.when, true
}

// StopAll cancels every pending alarm (on shutdown).
func (a *TimerAlarms) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for name, existing := range a.alarms {
		existing.timer.Stop()
		delete(a.alarms, name)
	}
}

var _ domain.AlarmScheduler = (*TimerAlarms)(nil)
