// Package orchestrator wires the supervisor to its settings file, metrics,
// dashboard and signal handling for the command line.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-jar-supervisor/internal/artifact"
	"github.com/randomizedcoder/go-jar-supervisor/internal/config"
	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
	"github.com/randomizedcoder/go-jar-supervisor/internal/logging"
	"github.com/randomizedcoder/go-jar-supervisor/internal/metrics"
	"github.com/randomizedcoder/go-jar-supervisor/internal/preflight"
	"github.com/randomizedcoder/go-jar-supervisor/internal/process"
	"github.com/randomizedcoder/go-jar-supervisor/internal/settings"
	"github.com/randomizedcoder/go-jar-supervisor/internal/stats"
	"github.com/randomizedcoder/go-jar-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-jar-supervisor/internal/timeseries"
	"github.com/randomizedcoder/go-jar-supervisor/internal/tui"
)

// eventBuffer is the dashboard's event channel capacity. Events beyond it
// are dropped rather than stalling the log pumps.
const eventBuffer = 1024

// summaryLines is how much recent server output the exit summary shows
// after an unexpected exit.
const summaryLines = 15

// ErrUnexpectedExit is returned by a headless Run when the server exits
// without being stopped.
var ErrUnexpectedExit = errors.New("server exited unexpectedly")

// exitInfo describes an exit the supervisor did not cause.
type exitInfo struct {
	instance string
	code     int
}

// Orchestrator coordinates all components for one supervised server.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	store    *settings.Store
	settings settings.ConnectionSettings
	artifact string

	runner        *process.JavaRunner
	sup           *supervisor.Supervisor
	sink          events.Sink
	output        *logging.OutputHandler
	channel       *events.Channel // nil in headless mode
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server // nil when -metrics is empty
	scraper       *metrics.ActuatorScraper
	lifecycle     *stats.Lifecycle
	logRate       *timeseries.RateTracker

	exits chan exitInfo

	// out receives the exit summary.
	out io.Writer

	startTime time.Time
}

// New creates an Orchestrator. It reads the settings file, applies the
// command-line overrides and locates the artifact, but starts nothing.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		version:   version,
		lifecycle: stats.NewLifecycle(),
		logRate:   timeseries.NewRateTracker(),
		exits:     make(chan exitInfo, 1),
		out:       os.Stdout,
	}

	o.store = settings.NewStore(o.settingsPath())
	conn, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	o.settings = applyOverrides(conn, cfg)
	if err := settings.Validate(o.settings); err != nil {
		return nil, err
	}

	o.artifact = o.locateArtifact()

	host, port, err := cfg.ManagementHostPort(o.settings.ServerPort)
	if err != nil {
		return nil, err
	}

	o.runner = process.NewJavaRunner(&process.JavaConfig{
		BinaryPath: cfg.JavaPath,
		JVMArgs:    cfg.JVMArgs,
		WorkDir:    cfg.WorkDir,
	})

	o.registry = prometheus.NewRegistry()
	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:  version,
		Artifact: o.artifact,
	}, o.registry)

	o.output = logging.NewOutputHandler(logger)
	sinks := events.Fanout{o.output, o.metrics, events.Func(o.countLine)}
	if cfg.TUIEnabled {
		o.channel = events.NewChannel(eventBuffer)
		sinks = append(sinks, o.channel)
	}
	o.sink = sinks

	o.sup = supervisor.New(supervisor.Config{
		Launcher:       o.runner,
		Sink:           o.sink,
		ShutdownPath:   cfg.ShutdownPath,
		UserAgent:      cfg.UserAgent,
		HTTPTimeout:    cfg.HTTPTimeout,
		ManagementHost: host,
		ManagementPort: port,
		PollAttempts:   cfg.StopAttempts,
		PollInterval:   cfg.StopInterval,
		ReadyMarker:    cfg.ReadyMarker,
		WorkDir:        cfg.WorkDir,
		ReapTimeout:    cfg.ReapTimeout,
		Logger:         logger,
		Callbacks: supervisor.Callbacks{
			OnStart:     o.onStart,
			OnReady:     o.onReady,
			OnNegotiate: o.onNegotiate,
			OnExit:      o.onExit,
			OnStop:      o.onStop,
		},
	})

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServerWithGatherer(cfg.MetricsAddr, o.registry, o.ready, logger)
	}
	o.scraper = metrics.NewActuatorScraper(cfg.ActuatorMetrics, cfg.ActuatorInterval, cfg.ActuatorWindow, logger)

	return o, nil
}

// Run supervises the server until a signal arrives, the dashboard quits or,
// in headless mode, the server exits on its own. The server is always
// stopped and the exit summary printed before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if err := o.writeSettings(); err != nil {
		return err
	}

	if !o.config.SkipPreflight {
		result := preflight.RunAll(ctx, o.preflightOptions())
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use --skip-preflight to override)")
		}
	}

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	bgCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { o.logRate.Run(bgCtx, timeseries.DefaultSampleInterval) })
	if o.scraper != nil {
		wg.Go(func() { o.scraper.Run(bgCtx) })
	}
	if o.config.WatchSettings {
		wg.Go(func() { o.watchSettings(bgCtx) })
	}

	var runErr error
	if o.config.TUIEnabled {
		runErr = o.runTUI(ctx)
	} else {
		runErr = o.runHeadless(ctx)
	}

	if o.sup.Running() {
		o.sup.Stop()
	}
	cancel()
	wg.Wait()

	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
		shutdownCancel()
	}

	o.printExitSummary()

	return runErr
}

// runHeadless starts the server and waits for a signal or an unexpected
// exit.
func (o *Orchestrator) runHeadless(ctx context.Context) error {
	if err := o.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	select {
	case <-ctx.Done():
		o.logger.Info("received_signal")
		return nil
	case ex := <-o.exits:
		return fmt.Errorf("%w: instance %s exit code %d", ErrUnexpectedExit, ex.instance, ex.code)
	}
}

// runTUI hands start and stop to the dashboard until the user quits.
func (o *Orchestrator) runTUI(ctx context.Context) error {
	model := tui.New(tui.Config{
		Artifact:    o.artifact,
		MetricsAddr: o.config.MetricsAddr,
		Events:      o.channel.C(),
		Controller:  o,
		Lifecycle:   o.lifecycle,
		Scraper:     o.scraper,
		LogRate:     o.logRate,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			tui.SendQuit(p)
		case <-done:
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	if n := o.channel.Dropped(); n > 0 {
		o.logger.Debug("dashboard_events_dropped", "count", n)
	}
	return nil
}

// =============================================================================
// tui.Controller
// =============================================================================

// Start launches the server for the located artifact.
func (o *Orchestrator) Start() error {
	return o.sup.Start(o.artifact)
}

// Stop stops the server. It blocks for the whole shutdown sequence.
func (o *Orchestrator) Stop() error {
	return o.sup.Stop()
}

// Pid returns the server's process ID, or 0.
func (o *Orchestrator) Pid() int {
	return o.sup.Pid()
}

// Instance returns the server's instance ID, or "".
func (o *Orchestrator) Instance() string {
	return o.sup.Instance()
}

// =============================================================================
// Supervisor callbacks
// =============================================================================

func (o *Orchestrator) onStart(instance string, pid int) {
	o.metrics.ServerStarted(instance, pid)
	o.lifecycle.RecordStart(instance)
}

func (o *Orchestrator) onReady(instance string, latency time.Duration) {
	o.metrics.ServerReady(instance, latency)
	o.lifecycle.RecordReady(instance, latency)
}

func (o *Orchestrator) onNegotiate(instance string, err error) {
	o.metrics.ShutdownNegotiated(instance, err)
	o.lifecycle.RecordNegotiation(instance, err)
}

func (o *Orchestrator) onExit(instance string, exitCode int, uptime time.Duration, expected bool) {
	o.metrics.ServerExited(instance, exitCode, uptime)
	o.lifecycle.RecordExit(instance, exitCode, uptime, expected)
	if !expected {
		select {
		case o.exits <- exitInfo{instance: instance, code: exitCode}:
		default:
		}
	}
}

func (o *Orchestrator) onStop(instance string, mode supervisor.StopMode, d time.Duration) {
	o.metrics.ServerStopped(instance, mode.String(), d)
	o.lifecycle.RecordStop(instance, mode.String(), d)
}

// countLine feeds server output into the log rate.
func (o *Orchestrator) countLine(ev events.Event) {
	if ev.Kind == events.KindLog && ev.Stream != events.StreamSupervisor {
		o.logRate.Add(1)
	}
}

// ready backs the metrics server's /ready endpoint.
func (o *Orchestrator) ready() bool {
	return o.sup.State() == supervisor.StateRunning
}

// =============================================================================
// Settings
// =============================================================================

// settingsPath resolves the settings file against the server's working
// directory, where the server itself reads it.
func (o *Orchestrator) settingsPath() string {
	p := o.config.SettingsPath
	if p == "" {
		p = settings.DefaultPath
	}
	if !filepath.IsAbs(p) && o.config.WorkDir != "" {
		p = filepath.Join(o.config.WorkDir, p)
	}
	return p
}

// applyOverrides replaces the fields given on the command line.
func applyOverrides(s settings.ConnectionSettings, cfg *config.Config) settings.ConnectionSettings {
	if cfg.DBHost != "" {
		s.Host = cfg.DBHost
	}
	if cfg.DBUser != "" {
		s.User = cfg.DBUser
	}
	if cfg.DBPassword != "" {
		s.Password = cfg.DBPassword
	}
	if cfg.DBName != "" {
		s.Database = cfg.DBName
	}
	if cfg.ServerPort != 0 {
		s.ServerPort = cfg.ServerPort
	}
	return s
}

func (o *Orchestrator) writeSettings() error {
	if !o.config.WriteSettings && !o.config.SettingsOverridden() {
		return nil
	}
	if err := o.store.Save(o.settings); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	o.logger.Info("settings_written",
		"path", o.store.Path,
		"url", o.settings.URL(),
		"server_port", o.settings.ServerPort,
	)
	return nil
}

func (o *Orchestrator) watchSettings(ctx context.Context) {
	err := o.store.Watch(ctx, func(s settings.ConnectionSettings, err error) {
		if err != nil {
			o.logger.Warn("settings_reload_failed", "path", o.store.Path, "error", err)
			return
		}
		o.logger.Info("settings_changed",
			"path", o.store.Path,
			"url", s.URL(),
			"server_port", s.ServerPort,
		)
		if o.sup.Running() {
			o.sink.Emit(events.LogEvent(o.sup.Instance(), events.StreamSupervisor,
				"Settings changed, restart the server to apply them"))
		}
	})
	if err != nil {
		o.logger.Warn("settings_watch_failed", "path", o.store.Path, "error", err)
	}
}

// =============================================================================
// Artifact and preflight
// =============================================================================

// locateArtifact returns the -jar path, or searches for one. When nothing is
// found the conventional name is kept so Start reports it as missing.
func (o *Orchestrator) locateArtifact() string {
	if o.config.JarPath != "" {
		return o.config.JarPath
	}
	path, err := artifact.Locator{Dir: o.config.WorkDir}.Find()
	if err != nil {
		o.logger.Warn("artifact_not_found", "error", err)
		return artifact.DefaultName
	}
	o.logger.Debug("artifact_located", "path", path)
	return path
}

func (o *Orchestrator) preflightOptions() preflight.Options {
	resolved, err := o.sup.ResolveArtifact(o.artifact)
	if err != nil {
		resolved = o.artifact
	}
	host, port, _ := o.config.ManagementHostPort(o.settings.ServerPort)
	return preflight.Options{
		JavaPath:       o.config.JavaPath,
		MinJavaMajor:   o.config.JavaMin,
		Artifact:       resolved,
		ManagementHost: host,
		ManagementPort: port,
		SettingsPath:   o.store.Path,
	}
}

// =============================================================================
// Exit summary
// =============================================================================

func (o *Orchestrator) printExitSummary() {
	var ls *stats.LifecycleStats
	if snap := o.lifecycle.Snapshot(); snap.Starts > 0 {
		ls = snap
	}
	fmt.Fprint(o.out, stats.FormatExitSummary(ls, stats.SummaryConfig{
		Artifact:    o.artifact,
		Duration:    time.Since(o.startTime),
		MetricsAddr: o.config.MetricsAddr,
		FinalStatus: string(o.metrics.LastStatus()),
		ErrorCounts: o.output.CountErrors(),
		LastLines:   o.output.RecentLines(summaryLines),
	}))
}

// =============================================================================
// Accessors
// =============================================================================

// Artifact returns the artifact path passed to the supervisor.
func (o *Orchestrator) Artifact() string {
	return o.artifact
}

// Settings returns the connection settings with overrides applied.
func (o *Orchestrator) Settings() settings.ConnectionSettings {
	return o.settings
}

// Supervisor returns the supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.sup
}

// Lifecycle returns the lifecycle statistics.
func (o *Orchestrator) Lifecycle() *stats.Lifecycle {
	return o.lifecycle
}

// LogRate returns the server's log line rate tracker.
func (o *Orchestrator) LogRate() *timeseries.RateTracker {
	return o.logRate
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Runner returns the java runner for external access.
func (o *Orchestrator) Runner() *process.JavaRunner {
	return o.runner
}
