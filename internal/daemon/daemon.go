// Package daemon runs the sitemon background process: one event loop that
// owns all state changes, fed by the control endpoint and alarms.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/router"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

// ErrStopped is returned by Submit once the event loop has exited.
var ErrStopped = errors.New("daemon stopped")

type eventKind int

const (
	eventInstall eventKind = iota
	eventStartup
	eventMessage
	eventAlarm
)

func (k eventKind) String() string {
	switch k {
	case eventInstall:
		return "install"
	case eventStartup:
		return "startup"
	case eventMessage:
		return "message"
	case eventAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

type event struct {
	kind  eventKind
	msg   router.Message
	alarm string
	reply chan any // message events only, buffered
}

// Daemon processes install/startup, message and alarm events one at a time,
// each to completion. Only the loop goroutine touches state and rules.
type Daemon struct {
	state     *usecase.StateAccessor
	timer     *usecase.TimerController
	router    *router.Router
	indicator domain.Indicator
	logger    *zap.Logger

	events chan event
	done   chan struct{}
}

// New creates a daemon. Run must be called to start processing.
func New(
	state *usecase.StateAccessor,
	timer *usecase.TimerController,
	r *router.Router,
	indicator domain.Indicator,
	logger *zap.Logger,
) *Daemon {
	return &Daemon{
		state:     state,
		timer:     timer,
		router:    r,
		indicator: indicator,
		logger:    logger,
		events:    make(chan event, 16),
		done:      make(chan struct{}),
	}
}

// Run handles the lifecycle event, then serves events until ctx is canceled.
// The lifecycle event is install when the store has never been written, and
// startup otherwise.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)

	initialized, err := d.state.Initialized(ctx)
	if err != nil {
		return err
	}
	lifecycle := eventStartup
	if !initialized {
		lifecycle = eventInstall
	}
	d.handle(ctx, event{kind: lifecycle})

	d.logger.Info("event loop running")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("event loop stopping")
			return ctx.Err()
		case ev := <-d.events:
			d.handle(ctx, ev)
		}
	}
}

// Submit queues msg and waits for its response.
func (d *Daemon) Submit(ctx context.Context, msg router.Message) (any, error) {
	ev := event{kind: eventMessage, msg: msg, reply: make(chan any, 1)}

	select {
	case d.events <- ev:
	case <-d.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-ev.reply:
		return resp, nil
	case <-d.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PostAlarm queues a fired alarm. It is the alarm scheduler's callback and
// blocks until the event is queued or the loop has exited.
func (d *Daemon) PostAlarm(name string) {
	select {
	case d.events <- event{kind: eventAlarm, alarm: name}:
	case <-d.done:
		d.logger.Warn("alarm dropped, daemon stopped", zap.String("name", name))
	}
}

func (d *Daemon) handle(ctx context.Context, ev event) {
	start := time.Now()

	switch ev.kind {
	case eventInstall:
		d.onInstall(ctx)
	case eventStartup:
		d.onStartup(ctx)
	case eventMessage:
		ev.reply <- d.router.Route(ctx, ev.msg)
	case eventAlarm:
		if err := d.timer.OnAlarm(ctx, ev.alarm); err != nil {
			d.logger.Error("alarm handling failed", zap.String("name", ev.alarm), zap.Error(err))
		}
	}

	d.logger.Debug("event handled",
		zap.Stringer("kind", ev.kind),
		zap.String("action", ev.msg.Action),
		zap.Duration("took", time.Since(start)))
}

func (d *Daemon) onInstall(ctx context.Context) {
	d.logger.Info("first run, installing defaults")
	if err := d.state.InstallDefaults(ctx); err != nil {
		d.logger.Error("failed to install defaults", zap.Error(err))
		return
	}
	if err := d.indicator.SetBadge(domain.BadgeInactive); err != nil {
		d.logger.Warn("failed to update badge", zap.Error(err))
	}
	d.reconcile(ctx)
}

func (d *Daemon) onStartup(ctx context.Context) {
	d.logger.Info("startup, reconciling timer state")
	d.reconcile(ctx)
}

func (d *Daemon) reconcile(ctx context.Context) {
	if err := d.timer.CheckTimerStatus(ctx); err != nil {
		d.logger.Error("timer reconciliation failed", zap.Error(err))
	}
}
