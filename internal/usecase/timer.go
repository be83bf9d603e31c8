package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// FocusAlarmName is the name of the timer expiry alarm.
const FocusAlarmName = "focusTimer"

// TimerController runs the focus timer. Persisted state is authoritative;
// the alarm is only a wake-up and CheckTimerStatus re-derives it after a restart.
type TimerController struct {
	state     *StateAccessor
	sync      *RuleSynchronizer
	alarms    domain.AlarmScheduler
	indicator domain.Indicator
	notifier  domain.Notifier // optional
	clock     domain.Clock
	logger    *zap.Logger
}

// NewTimerController creates a timer controller. notifier may be nil.
func NewTimerController(
	state *StateAccessor,
	sync *RuleSynchronizer,
	alarms domain.AlarmScheduler,
	indicator domain.Indicator,
	notifier domain.Notifier,
	clock domain.Clock,
	logger *zap.Logger,
) *TimerController {
	return &TimerController{
		state:     state,
		sync:      sync,
		alarms:    alarms,
		indicator: indicator,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
	}
}

// StartTimerMode forces allow-list blocking for minutes. minutes is not
// validated here.
func (t *TimerController) StartTimerMode(ctx context.Context, minutes int) (bool, error) {
	end := t.clock.Now().Add(time.Duration(minutes) * time.Minute).Truncate(time.Millisecond)

	if err := t.state.SaveTimerStarted(ctx, end, minutes); err != nil {
		return false, err
	}
	t.alarms.Create(FocusAlarmName, end)
	t.sync.EnableAllowListMode(ctx)
	t.setBadge(domain.BadgeTimer)

	t.logger.Info("focus timer started",
		zap.Int("minutes", minutes),
		zap.Time("ends_at", end))
	return true, nil
}

// EndTimerMode turns blocking fully off and clears the alarm.
func (t *TimerController) EndTimerMode(ctx context.Context) error {
	if err := t.state.SaveTimerEnded(ctx); err != nil {
		return err
	}
	t.alarms.Clear(FocusAlarmName)
	t.sync.DisableAllowListMode(ctx)
	t.setBadge(domain.BadgeInactive)

	t.logger.Info("focus timer ended")
	return nil
}

// CheckTimerStatus reconciles rules, badge and alarm with persisted timer
// state. It runs on every install and startup and is idempotent.
func (t *TimerController) CheckTimerStatus(ctx context.Context) error {
	s, err := t.state.Load(ctx)
	if err != nil {
		return err
	}
	if !s.TimerMode || s.TimerEndTime == nil {
		return nil
	}

	end := *s.TimerEndTime
	if !t.clock.Now().Before(end) {
		t.logger.Info("focus timer expired while daemon was not running", zap.Time("ended_at", end))
		return t.expire(ctx, s.TimerDuration)
	}

	if err := t.state.SetBlockingEnabled(ctx, true); err != nil {
		return err
	}
	t.sync.EnableAllowListMode(ctx)
	t.setBadge(domain.BadgeTimer)
	t.alarms.Create(FocusAlarmName, end)

	t.logger.Info("focus timer restored", zap.Time("ends_at", end))
	return nil
}

// GetRemainingTime returns the whole seconds left, rounded up and floored
// at 0, or nil when no timer is running.
func (t *TimerController) GetRemainingTime(ctx context.Context) (*int, error) {
	s, err := t.state.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !s.TimerMode || s.TimerEndTime == nil {
		return nil, nil
	}

	remaining := s.TimerEndTime.Sub(t.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	secs := int(math.Ceil(remaining.Seconds()))
	return &secs, nil
}

// OnAlarm handles a fired alarm. Alarms other than FocusAlarmName are ignored.
func (t *TimerController) OnAlarm(ctx context.Context, name string) error {
	if name != FocusAlarmName {
		t.logger.Debug("ignoring unknown alarm", zap.String("name", name))
		return nil
	}

	s, err := t.state.Load(ctx)
	if err != nil {
		return err
	}
	return t.expire(ctx, s.TimerDuration)
}

func (t *TimerController) expire(ctx context.Context, minutes int) error {
	if err := t.EndTimerMode(ctx); err != nil {
		return err
	}
	t.notifyEnded(minutes)
	return nil
}

func (t *TimerController) notifyEnded(minutes int) {
	if t.notifier == nil {
		return
	}
	msg := "Your focus session has ended. Blocking is off."
	if minutes > 0 {
		msg = fmt.Sprintf("Your %d minute focus session has ended. Blocking is off.", minutes)
	}
	if err := t.notifier.Notify("Focus session complete", msg); err != nil {
		t.logger.Warn("failed to notify", zap.Error(err))
	}
}

func (t *TimerController) setBadge(b domain.Badge) {
	if err := t.indicator.SetBadge(b); err != nil {
		t.logger.Warn("failed to update badge", zap.String("text", b.Text), zap.Error(err))
	}
}
