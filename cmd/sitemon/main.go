// Package main is the CLI entry point for sitemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/site_mon/internal/config"
	"github.com/eliteGoblin/focusd/site_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/router"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitemon",
	Short: "Focus-mode website blocker",
	Long: `sitemon blocks every website except an allow-list while focus mode is on.
Focus mode is either toggled manually or started as a timer that cannot be
switched off until it runs out.`,
	Version:      Version,
	SilenceUsage: true,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sitemon daemon",
	Long: `Runs the daemon that owns focus state, rules and the focus timer.
Normally started at login by the LaunchAgent installed with 'sitemon install'.`,
	RunE: runDaemon,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show focus mode status",
	RunE:  runStatus,
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Turn manual blocking on or off",
	Long:  `Flips manual allow-list blocking. Refused while a focus timer is running.`,
	RunE:  runToggle,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a focus timer",
	Long: `Starts a focus timer. Blocking is forced on until the timer ends and
cannot be toggled off in the meantime.`,
	RunE: runStartTimer,
}

var remainingCmd = &cobra.Command{
	Use:   "remaining",
	Short: "Show time left on the focus timer",
	RunE:  runRemaining,
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage the allow-list",
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowed sites",
	Args:  cobra.NoArgs,
	RunE:  runSitesList,
}

var sitesSetCmd = &cobra.Command{
	Use:   "set [site...]",
	Short: "Replace the allow-list",
	RunE:  runSitesSet,
}

var sitesAddCmd = &cobra.Command{
	Use:   "add site...",
	Short: "Add sites to the allow-list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSitesAdd,
}

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove site...",
	Short: "Remove sites from the allow-list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSitesRemove,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install sitemon and start it at login",
	Long: `Copies the binary to its install location and registers a LaunchAgent
(user) or LaunchDaemon (root) so the daemon starts at login.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop starting sitemon at login",
	Long: `Unloads the LaunchAgent (or LaunchDaemon when run as root) and removes
its plist. State and the installed binary are left in place.`,
	RunE: runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	daemonBackground bool
	timerMinutes     int
	jsonOutput       bool
)

func init() {
	daemonCmd.Flags().BoolVar(&daemonBackground, "background", false, "Detach and run in the background")
	startCmd.Flags().IntVarP(&timerMinutes, "minutes", "m", 0, "Timer length in minutes (default from config)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	sitesCmd.AddCommand(sitesListCmd, sitesSetCmd, sitesAddCmd, sitesRemoveCmd)

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(remainingCmd)
	rootCmd.AddCommand(sitesCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

func dataDir() string {
	return infra.DetectExecMode().DataDir
}

func loadConfig(dir string) (*config.Config, error) {
	return config.Load(filepath.Join(dir, "config.yaml"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	dir := dataDir()

	if daemonBackground {
		pid, err := daemon.StartDetached("", dir)
		if err != nil {
			return err
		}
		fmt.Printf("sitemon daemon started (pid %d)\n", pid)
		return nil
	}

	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	logger := createLogger(dir)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	bg, err := daemon.Build(ctx, daemon.Options{
		DataDir:    dir,
		Config:     cfg,
		AppVersion: Version,
	}, logger)
	if err != nil {
		logger.Error("failed to start daemon", zap.Error(err))
		return err
	}
	return bg.Run(ctx)
}

// newClient connects to the registered daemon, or the configured address
// when no live daemon is registered.
func newClient() (*router.Client, *config.Config, error) {
	dir := dataDir()
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, nil, err
	}

	addr := cfg.ControlAddr
	registry := infra.NewFileRegistry(dir, infra.NewProcessManager())
	if registry.IsAlive() {
		if info, err := registry.Get(); err == nil && info != nil && info.ControlAddr != "" {
			addr = info.ControlAddr
		}
	}
	return router.NewClient(addr, cfg.ClientTimeout), cfg, nil
}

func requestContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cfg.ClientTimeout)
}

// clientError turns transport failures into a hint; daemon-side errors are
// shown as they are.
func clientError(err error) error {
	if errors.Is(err, router.ErrDaemonUnreachable) {
		return fmt.Errorf("%w (start it with 'sitemon daemon --background')", router.ErrDaemonUnreachable)
	}
	var remote *router.RemoteError
	if errors.As(err, &remote) {
		return errors.New(remote.Message)
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cfg)
	defer cancel()

	fmt.Println("\n=== sitemon Status ===")

	status, err := client.GetStatus(ctx)
	if err != nil {
		if errors.Is(err, router.ErrDaemonUnreachable) {
			fmt.Println("Daemon: NOT RUNNING")
			fmt.Println("\nRun 'sitemon daemon --background' to start it.")
			fmt.Println("======================")
			return nil
		}
		return clientError(err)
	}

	fmt.Println("Daemon: RUNNING")
	switch {
	case status.TimerMode:
		fmt.Println("Focus mode: TIMER")
		remaining, err := client.GetRemainingTime(ctx)
		if err == nil && remaining != nil {
			fmt.Printf("Time left: %s\n", formatRemaining(*remaining))
		}
	case status.BlockingEnabled:
		fmt.Println("Focus mode: ON (manual)")
	default:
		fmt.Println("Focus mode: OFF")
	}
	fmt.Printf("Timer length: %d minutes\n", status.TimerDuration)

	sites, err := client.GetAllowedSites(ctx)
	if err != nil {
		return clientError(err)
	}
	printSites(sites)
	fmt.Println("======================")
	return nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cfg)
	defer cancel()

	result, err := client.ToggleBlocking(ctx)
	if err != nil {
		return clientError(err)
	}
	if result.Enabled {
		fmt.Println("Blocking enabled: only allowed sites can be opened")
	} else {
		fmt.Println("Blocking disabled")
	}
	return nil
}

func runStartTimer(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	minutes := timerMinutes
	if !cmd.Flags().Changed("minutes") {
		minutes = cfg.DefaultDurationMinutes
	}
	if err := validateMinutes(minutes, cfg.MaxDurationMinutes); err != nil {
		return err
	}

	ctx, cancel := requestContext(cfg)
	defer cancel()

	if err := client.StartTimer(ctx, minutes); err != nil {
		return clientError(err)
	}
	fmt.Printf("Focus timer started: %d minutes\n", minutes)
	return nil
}

func runRemaining(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cfg)
	defer cancel()

	remaining, err := client.GetRemainingTime(ctx)
	if err != nil {
		return clientError(err)
	}
	if remaining == nil {
		fmt.Println("No focus timer running")
		return nil
	}
	fmt.Println(formatRemaining(*remaining))
	return nil
}

func runSitesList(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cfg)
	defer cancel()

	sites, err := client.GetAllowedSites(ctx)
	if err != nil {
		return clientError(err)
	}
	printSites(sites)
	return nil
}

func runSitesSet(cmd *cobra.Command, args []string) error {
	sites, err := normalizeSites(args)
	if err != nil {
		return err
	}
	return saveSites(sites)
}

func runSitesAdd(cmd *cobra.Command, args []string) error {
	return editSites(func(current []string) ([]string, error) {
		added, err := normalizeSites(args)
		if err != nil {
			return nil, err
		}
		return addSites(current, added), nil
	})
}

func runSitesRemove(cmd *cobra.Command, args []string) error {
	return editSites(func(current []string) ([]string, error) {
		removed, err := normalizeSites(args)
		if err != nil {
			return nil, err
		}
		return removeSites(current, removed), nil
	})
}

func editSites(edit func(current []string) ([]string, error)) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cfg)
	defer cancel()

	current, err := client.GetAllowedSites(ctx)
	if err != nil {
		return clientError(err)
	}
	next, err := edit(current)
	if err != nil {
		return err
	}
	if err := client.UpdateAllowedSites(ctx, next); err != nil {
		return clientError(err)
	}
	printSites(next)
	return nil
}

func saveSites(sites []string) error {
	return editSites(func([]string) ([]string, error) { return sites, nil })
}

func printSites(sites []string) {
	fmt.Printf("\nAllowed sites (%d):\n", len(sites))
	for _, s := range sites {
		fmt.Printf("  - %s\n", s)
	}
}

func runInstall(cmd *cobra.Command, args []string) error {
	execMode := infra.DetectExecMode()
	fmt.Printf("Execution mode: %s\n", execMode.Mode)

	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath := execMode.BinaryPath
	if currentExecPath != binaryPath {
		if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
			fmt.Printf("Warning: Could not create binary directory: %v\n", err)
			binaryPath = currentExecPath
		} else if err := copyBinary(currentExecPath, binaryPath); err != nil {
			fmt.Printf("Warning: Could not copy binary to %s: %v\n", binaryPath, err)
			binaryPath = currentExecPath
		} else {
			fmt.Printf("Installed binary to %s\n", binaryPath)
		}
	}

	if err := os.MkdirAll(execMode.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	if runtime.GOOS != "darwin" {
		fmt.Println("Auto-start is only supported on macOS; starting the daemon now")
		pid, err := daemon.StartDetached(binaryPath, execMode.DataDir)
		if err != nil {
			return err
		}
		fmt.Printf("sitemon daemon started (pid %d)\n", pid)
		return nil
	}

	launchdManager := infra.NewLaunchdManager(execMode)
	if launchdManager.IsInstalled() && !launchdManager.NeedsUpdate(binaryPath) {
		fmt.Printf("Already installed: %s\n", launchdManager.GetPlistPath())
		return nil
	}
	if err := launchdManager.Install(binaryPath); err != nil {
		return fmt.Errorf("failed to install %s: %w", execMode.Mode, err)
	}

	fmt.Println("\n=== sitemon Installed ===")
	fmt.Printf("Mode: %s\n", execMode.Mode)
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Printf("Plist: %s\n", launchdManager.GetPlistPath())
	fmt.Printf("Data: %s\n", execMode.DataDir)
	fmt.Println("The daemon starts now and at every login.")
	fmt.Println("=========================")
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if runtime.GOOS != "darwin" {
		fmt.Println("Auto-start is only supported on macOS; nothing to uninstall")
		return nil
	}

	execMode := infra.DetectExecMode()
	removed, err := removeAgent(infra.NewLaunchdManager(execMode))
	if err != nil {
		return fmt.Errorf("failed to uninstall %s: %w", execMode.Mode, err)
	}
	if !removed {
		fmt.Println("Not installed")
		return nil
	}
	fmt.Printf("Removed %s\n", execMode.PlistPath)
	return nil
}

// removeAgent unloads and deletes the plist. It reports false when nothing
// was installed.
func removeAgent(m domain.LaunchAgentManager) (bool, error) {
	if !m.IsInstalled() {
		return false, nil
	}
	if err := m.Uninstall(); err != nil {
		return false, err
	}
	return true, nil
}

// copyBinary copies the binary file to destination using atomic write pattern.
// Writes to temp file first, syncs, chmods, then renames to avoid corruption.
func copyBinary(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".sitemon-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Chmod(tmpPath, 0755); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}

func createLogger(dir string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{filepath.Join(dir, "sitemon.log")}
	cfg.ErrorOutputPaths = []string{filepath.Join(dir, "sitemon.error.log")}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(dir, 0700); err != nil {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("sitemon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func formatRemaining(secs int) string {
	return (time.Duration(secs) * time.Second).String()
}
