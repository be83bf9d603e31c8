package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/config"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/router"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

// ErrAlreadyRunning is returned when another daemon owns the data directory.
var ErrAlreadyRunning = errors.New("sitemon daemon already running")

// Options configures Build.
type Options struct {
	DataDir    string
	Config     *config.Config
	AppVersion string
	Clock      domain.Clock    // defaults to the system clock
	Notifier   domain.Notifier // defaults to desktop notifications when Config.Notify
}

// Background is a fully wired daemon: store, rule engine, event loop,
// control endpoint and optional DNS guard.
type Background struct {
	opts     Options
	daemon   *Daemon
	store    *infra.EncryptedStore
	engine   *infra.FilterEngine
	alarms   *infra.TimerAlarms
	registry domain.DaemonRegistry
	logger   *zap.Logger

	control *ControlServer
	dns     *DNSGuard
	ready   chan struct{}
}

// Build opens the encrypted store and wires every component.
func Build(ctx context.Context, opts Options, logger *zap.Logger) (*Background, error) {
	cfg := opts.Config
	if err := os.MkdirAll(opts.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	key, err := infra.LoadOrCreateKey(infra.NewStoreKeyFile(opts.DataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to get store key: %w", err)
	}
	store, err := infra.NewEncryptedStore(opts.DataDir, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	engine, err := infra.NewFilterEngine(ctx, store, cfg.RuleLimit, logger.Named("rules"))
	if err != nil {
		store.Close()
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = infra.SystemClock{}
	}
	notifier := opts.Notifier
	if notifier == nil && cfg.Notify {
		notifier = infra.NewDesktopNotifier(logger.Named("notify"))
	}

	badge := infra.NewBadgeFile(opts.DataDir)
	state := usecase.NewStateAccessor(store, cfg.DefaultDurationMinutes, cfg.DefaultAllowedSites)
	ruleSync := usecase.NewRuleSynchronizer(state, engine, logger.Named("rulesync"))

	var d *Daemon
	alarms := infra.NewTimerAlarmsWithClock(func(name string) { d.PostAlarm(name) }, clock, logger.Named("alarms"))

	timer := usecase.NewTimerController(state, ruleSync, alarms, badge, notifier, clock, logger.Named("timer"))
	blocking := usecase.NewBlockingService(state, ruleSync, badge, logger.Named("blocking"))
	handlers := &usecase.Handlers{BlockingService: blocking, TimerController: timer}

	d = New(state, timer, router.New(handlers, logger.Named("router")), badge, logger)

	return &Background{
		opts:     opts,
		daemon:   d,
		store:    store,
		engine:   engine,
		alarms:   alarms,
		registry: infra.NewFileRegistry(opts.DataDir, infra.NewProcessManager()),
		logger:   logger,
		ready:    make(chan struct{}),
	}, nil
}

// Daemon returns the event loop (tests submit to it directly).
func (b *Background) Daemon() *Daemon {
	return b.daemon
}

// Engine returns the rule engine.
func (b *Background) Engine() *infra.FilterEngine {
	return b.engine
}

// Ready is closed once Run is serving the control endpoint.
func (b *Background) Ready() <-chan struct{} {
	return b.ready
}

// ControlAddr returns the bound control address. Valid after Ready.
func (b *Background) ControlAddr() string {
	if b.control == nil {
		return ""
	}
	return b.control.Addr()
}

// DNSAddr returns the DNS guard's UDP address, or "" when it is not running.
// Valid after Ready.
func (b *Background) DNSAddr() string {
	if b.dns == nil {
		return ""
	}
	return b.dns.Addr()
}

// Run serves until ctx is canceled, then shuts everything down.
func (b *Background) Run(ctx context.Context) error {
	defer b.store.Close()

	if info, err := b.registry.Get(); err == nil && info != nil &&
		info.PID != os.Getpid() && b.registry.IsAlive() {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, info.PID)
	}

	control, err := ListenControl(b.opts.Config.ControlAddr, NewControlHandler(b.daemon, b.logger.Named("control")), b.logger)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.opts.Config.ControlAddr, err)
	}
	b.control = control

	if b.opts.Config.DNS.Enabled {
		guard := NewDNSGuard(b.opts.Config.DNS, b.engine, b.logger.Named("dns"))
		if err := guard.Start(); err != nil {
			b.logger.Error("dns guard disabled", zap.String("listen", b.opts.Config.DNS.Listen), zap.Error(err))
		} else {
			b.dns = guard
		}
	}

	if err := b.registry.Register(domain.DaemonInfo{
		PID:         os.Getpid(),
		StartedAt:   time.Now().Unix(),
		ControlAddr: control.Addr(),
		AppVersion:  b.opts.AppVersion,
	}); err != nil {
		b.logger.Warn("failed to register daemon", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- control.Serve() }()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopErr := make(chan error, 1)
	go func() { loopErr <- b.daemon.Run(loopCtx) }()

	b.logger.Info("sitemon daemon started",
		zap.Int("pid", os.Getpid()),
		zap.String("control", control.Addr()),
		zap.Bool("dns", b.dns != nil),
		zap.String("data_dir", b.opts.DataDir))
	close(b.ready)

	var runErr error
	select {
	case err := <-loopErr:
		if !errors.Is(err, context.Canceled) {
			runErr = err
		}
	case err := <-serveErr:
		runErr = err
		cancel()
		<-loopErr
	}

	b.shutdown()
	return runErr
}

func (b *Background) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.control.Shutdown(ctx); err != nil {
		b.logger.Warn("control shutdown", zap.Error(err))
	}
	if b.dns != nil {
		b.dns.Shutdown()
	}
	b.alarms.StopAll()
	if err := b.registry.Clear(); err != nil {
		b.logger.Warn("failed to clear registry", zap.Error(err))
	}
	b.logger.Info("sitemon daemon stopped")
}

// Ensure Daemon satisfies the control endpoint's Submitter.
var _ Submitter = (*Daemon)(nil)

// Ensure the usecase handlers satisfy the router backend.
var _ router.Backend = (*usecase.Handlers)(nil)
