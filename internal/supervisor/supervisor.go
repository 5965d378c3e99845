package supervisor

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-jar-supervisor/internal/actuator"
	"github.com/randomizedcoder/go-jar-supervisor/internal/errkind"
	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
	"github.com/randomizedcoder/go-jar-supervisor/internal/logpump"
	"github.com/randomizedcoder/go-jar-supervisor/internal/netprobe"
	"github.com/randomizedcoder/go-jar-supervisor/internal/process"
)

const (
	// DefaultManagementPort is the port the server listens on and serves its
	// management endpoint from.
	DefaultManagementPort = 8080

	// DefaultPollAttempts is how many times Stop checks the port after the
	// server has accepted the shutdown request.
	DefaultPollAttempts = 15

	// DefaultPollInterval is the pause before each port check.
	DefaultPollInterval = time.Second

	// drainTimeout bounds how long Stop waits for the log pumps to forward
	// the last lines of a reaped process.
	drainTimeout = 2 * time.Second
)

// Prober reports whether the management port is accepting connections.
// netprobe.Prober implements it.
type Prober interface {
	IsOpen(port int) bool
}

// Negotiator asks the server to shut itself down.
// *actuator.Negotiator implements it.
type Negotiator interface {
	AttemptGracefulShutdown(managementHost string) error
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStart is called when a process has been spawned.
	OnStart func(instance string, pid int)

	// OnReady is called when the readiness marker is first seen.
	OnReady func(instance string, latency time.Duration)

	// OnNegotiate is called with the outcome of the shutdown request.
	OnNegotiate func(instance string, err error)

	// OnExit is called when the process exits, whether or not Stop caused it.
	// expected is false when the process went away on its own.
	OnExit func(instance string, exitCode int, uptime time.Duration, expected bool)

	// OnStop is called at the end of every Stop.
	OnStop func(instance string, mode StopMode, duration time.Duration)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// Launcher spawns the server. Required.
	Launcher process.Launcher

	// Sink receives status and log events. Nil discards them.
	Sink events.Sink

	// Negotiator requests graceful shutdown. Nil means an
	// actuator.Negotiator built from ShutdownPath, UserAgent and HTTPTimeout
	// that narrates into Sink.
	Negotiator Negotiator

	ShutdownPath string
	UserAgent    string
	HTTPTimeout  time.Duration

	// Prober checks the management port. Nil means a netprobe.Prober on
	// ManagementHost.
	Prober Prober

	// ManagementHost and ManagementPort locate the management endpoint.
	ManagementHost string
	ManagementPort int

	PollAttempts int
	PollInterval time.Duration

	// ReadyMarker is the stdout substring that signals readiness.
	ReadyMarker string

	// WorkDir anchors relative artifact paths. Empty means the current
	// directory.
	WorkDir string

	// ReapTimeout bounds the wait for a killed process to be reaped.
	// Zero waits forever.
	ReapTimeout time.Duration

	Logger    *slog.Logger
	Callbacks Callbacks
}

// proc is a process occupying the slot.
type proc struct {
	id        string
	handle    process.Handle
	artifact  string
	startTime time.Time
	ready     *logpump.Readiness
	pumps     []*logpump.Pump

	// exited is closed once the process has been reaped.
	exited chan struct{}
}

// Supervisor owns the single supervised process slot.
//
// Start and Stop are serialized by one mutex that Stop holds for its whole
// duration, so a Start issued while a Stop is in flight blocks until the
// slot has been cleared. The log pumps never take this lock.
type Supervisor struct {
	launcher   process.Launcher
	sink       events.Sink
	negotiator Negotiator
	prober     Prober
	logger     *slog.Logger
	callbacks  Callbacks

	shutdownPath string
	userAgent    string
	httpTimeout  time.Duration

	managementHost string
	managementPort int
	pollAttempts   int
	pollInterval   time.Duration
	readyMarker    string
	workDir        string
	reapTimeout    time.Duration

	mu      sync.Mutex
	current *proc

	state atomic.Int32

	// pid and instance mirror current for lock-free readers.
	pid      atomic.Int64
	instance atomic.Value

	// sleep is replaced in tests.
	sleep func(time.Duration)
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	sink := cfg.Sink
	if sink == nil {
		sink = events.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := cfg.ManagementHost
	if host == "" {
		host = netprobe.DefaultHost
	}
	port := cfg.ManagementPort
	if port <= 0 {
		port = DefaultManagementPort
	}
	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	prober := cfg.Prober
	if prober == nil {
		prober = netprobe.Prober{Host: host}
	}

	s := &Supervisor{
		launcher:       cfg.Launcher,
		sink:           sink,
		negotiator:     cfg.Negotiator,
		prober:         prober,
		logger:         logger,
		callbacks:      cfg.Callbacks,
		shutdownPath:   cfg.ShutdownPath,
		userAgent:      cfg.UserAgent,
		httpTimeout:    cfg.HTTPTimeout,
		managementHost: host,
		managementPort: port,
		pollAttempts:   attempts,
		pollInterval:   interval,
		readyMarker:    cfg.ReadyMarker,
		workDir:        cfg.WorkDir,
		reapTimeout:    cfg.ReapTimeout,
		sleep:          time.Sleep,
	}
	s.instance.Store("")
	return s
}

// ManagementAddr returns the host:port the shutdown request is sent to.
func (s *Supervisor) ManagementAddr() string {
	return net.JoinHostPort(s.managementHost, strconv.Itoa(s.managementPort))
}

// State returns the current slot state. It never blocks on an in-flight
// Start or Stop.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Running returns true if a process occupies the slot.
func (s *Supervisor) Running() bool {
	return s.State().Occupied()
}

// Instance returns the ID of the process in the slot, or "" if empty.
func (s *Supervisor) Instance() string {
	return s.instance.Load().(string)
}

// Pid returns the OS process ID of the process in the slot, or 0.
func (s *Supervisor) Pid() int {
	return int(s.pid.Load())
}

// ResolveArtifact maps artifactPath to the file Start would launch.
// A leading "../" is resolved against the parent of the working directory;
// other relative paths against the working directory itself.
func (s *Supervisor) ResolveArtifact(artifactPath string) (string, error) {
	if filepath.IsAbs(artifactPath) {
		return artifactPath, nil
	}
	base := s.workDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("working directory: %w", err)
		}
		base = wd
	}
	if rest, ok := strings.CutPrefix(artifactPath, "../"); ok {
		return filepath.Join(filepath.Dir(filepath.Clean(base)), rest), nil
	}
	return filepath.Join(base, artifactPath), nil
}

// Start spawns the server for artifactPath and returns without waiting for
// it to become ready. Readiness is reported asynchronously as a running
// status event once the marker line appears on stdout.
func (s *Supervisor) Start(artifactPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return errkind.New(errkind.KindAlreadyRunning, "server is already running")
	}

	path, err := s.ResolveArtifact(artifactPath)
	if err != nil {
		return errkind.Wrap(errkind.KindArtifactNotFound, err, "cannot resolve "+artifactPath)
	}
	if _, err := os.Stat(path); err != nil {
		return errkind.Wrapf(errkind.KindArtifactNotFound, err, "file %s not found", path)
	}

	handle, err := s.launcher.Launch(path)
	if err != nil {
		s.logger.Error("failed_to_start_process",
			"launcher", s.launcher.Name(),
			"artifact", path,
			"error", err,
		)
		return errkind.Wrapf(errkind.KindSpawnFailed, err, "failed to start %s", s.launcher.Name())
	}

	p := &proc{
		id:        uuid.NewString(),
		handle:    handle,
		artifact:  path,
		startTime: time.Now(),
		exited:    make(chan struct{}),
	}
	p.ready = &logpump.Readiness{OnReady: func() { s.markReady(p) }}

	s.current = p
	s.pid.Store(int64(handle.Pid()))
	s.instance.Store(p.id)
	s.state.Store(int32(StateStarting))

	// starting goes out before either pump can see the marker.
	s.sink.Emit(events.StatusEvent(p.id, events.StatusStarting))

	p.pumps = []*logpump.Pump{
		logpump.Start(logpump.Config{
			Reader:   handle.Stdout(),
			Role:     logpump.RoleStdout,
			Instance: p.id,
			Sink:     s.sink,
			Marker:   s.readyMarker,
			Ready:    p.ready,
		}),
		logpump.Start(logpump.Config{
			Reader:   handle.Stderr(),
			Role:     logpump.RoleStderr,
			Instance: p.id,
			Sink:     s.sink,
		}),
	}

	go s.watch(p)

	s.logger.Info("server_started",
		"instance", p.id,
		"pid", handle.Pid(),
		"artifact", path,
	)

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(p.id, handle.Pid())
	}

	return nil
}

// markReady runs on the stdout pump's goroutine.
func (s *Supervisor) markReady(p *proc) {
	latency := time.Since(p.startTime)
	s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))

	s.logger.Info("server_ready",
		"instance", p.id,
		"latency", latency.String(),
	)

	if s.callbacks.OnReady != nil {
		s.callbacks.OnReady(p.id, latency)
	}
}

// watch reaps p and reports exits that Stop did not cause.
func (s *Supervisor) watch(p *proc) {
	exitCode := process.ExitCode(p.handle.Wait())
	uptime := time.Since(p.startTime)
	close(p.exited)

	expected := s.State() == StateStopping || s.Instance() != p.id
	if !expected {
		s.logger.Warn("server_exited_unexpectedly",
			"instance", p.id,
			"exit_code", exitCode,
			"uptime", uptime.String(),
		)
		s.narrate(p.id, fmt.Sprintf("Server exited with code %d", exitCode))
	} else {
		s.logger.Debug("server_exited",
			"instance", p.id,
			"exit_code", exitCode,
			"uptime", uptime.String(),
		)
	}

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(p.id, exitCode, uptime, expected)
	}
}

// Stop shuts the server down and always returns nil.
//
// It first asks the server to shut down through the management endpoint.
// If the server accepts, the port is polled until it closes; if it never
// closes, or the request fails, the process is killed. Every step is
// narrated to the sink. The slot is empty and exactly one stopped status
// has been emitted when Stop returns.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	began := time.Now()
	p := s.current
	if p == nil {
		s.sink.Emit(events.StatusEvent("", events.StatusStopped))
		s.logger.Debug("stop_without_process")
		if s.callbacks.OnStop != nil {
			s.callbacks.OnStop("", StopNoop, 0)
		}
		return nil
	}

	s.state.Store(int32(StateStopping))
	s.narrate(p.id, "=== Stopping server ===")

	mode := StopForced
	err := s.negotiatorFor(p.id).AttemptGracefulShutdown(s.ManagementAddr())
	if s.callbacks.OnNegotiate != nil {
		s.callbacks.OnNegotiate(p.id, err)
	}

	if err == nil {
		s.narrate(p.id, "Shutdown request accepted")
		if s.awaitPortClosed(p.id) {
			s.narrate(p.id, fmt.Sprintf("Port %d released, server exited", s.managementPort))
			mode = StopGraceful
		} else {
			s.narrate(p.id, "Timed out waiting for exit, killing server")
			mode = StopTimeout
		}
	} else {
		s.logger.Warn("shutdown_request_failed",
			"instance", p.id,
			"kind", errkind.KindOf(err).String(),
			"error", err,
		)
		s.narrate(p.id, fmt.Sprintf("Graceful shutdown failed: %v", err))
	}

	if mode.Killed() {
		if err := p.handle.Kill(); err != nil {
			s.logger.Debug("kill_failed", "instance", p.id, "error", err)
		}
	}
	s.reap(p)
	s.drain(p)

	s.current = nil
	s.pid.Store(0)
	s.instance.Store("")
	s.state.Store(int32(StateIdle))

	s.sink.Emit(events.StatusEvent(p.id, events.StatusStopped))
	if mode == StopGraceful {
		s.narrate(p.id, "=== Server stopped via management endpoint ===")
	} else {
		s.narrate(p.id, "=== Server stopped ===")
	}

	duration := time.Since(began)
	s.logger.Info("server_stopped",
		"instance", p.id,
		"mode", mode.String(),
		"duration", duration.String(),
	)

	if s.callbacks.OnStop != nil {
		s.callbacks.OnStop(p.id, mode, duration)
	}

	return nil
}

// awaitPortClosed polls the management port. It sleeps before every probe
// and returns true on the first probe that finds the port closed.
func (s *Supervisor) awaitPortClosed(instance string) bool {
	for i := 0; i < s.pollAttempts; i++ {
		s.sleep(s.pollInterval)
		if !s.prober.IsOpen(s.managementPort) {
			return true
		}
		s.narrate(instance, fmt.Sprintf("Waiting for server to exit... %d/%d", i+1, s.pollAttempts))
	}
	return false
}

// reap waits for the watcher to collect the exit status.
func (s *Supervisor) reap(p *proc) {
	if s.reapTimeout <= 0 {
		<-p.exited
		return
	}
	select {
	case <-p.exited:
	case <-time.After(s.reapTimeout):
		s.logger.Warn("reap_timeout",
			"instance", p.id,
			"pid", p.handle.Pid(),
			"timeout", s.reapTimeout.String(),
		)
		s.narrate(p.id, fmt.Sprintf("Process %d did not exit within %s, abandoning it", p.handle.Pid(), s.reapTimeout))
	}
}

// drain waits briefly for the pumps to forward the process's last lines.
func (s *Supervisor) drain(p *proc) {
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	for _, pump := range p.pumps {
		select {
		case <-pump.Done():
		case <-deadline.C:
			s.logger.Debug("pump_drain_timeout", "instance", p.id, "stream", pump.Role().String())
			return
		}
	}
}

func (s *Supervisor) negotiatorFor(instance string) Negotiator {
	if s.negotiator != nil {
		return s.negotiator
	}
	return &actuator.Negotiator{
		Path:      s.shutdownPath,
		UserAgent: s.userAgent,
		Timeout:   s.httpTimeout,
		Narrate:   func(line string) { s.narrate(instance, line) },
	}
}

// narrate emits a supervisor log line.
func (s *Supervisor) narrate(instance, line string) {
	s.sink.Emit(events.LogEvent(instance, events.StreamSupervisor, line))
}
