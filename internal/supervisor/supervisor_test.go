package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-jar-supervisor/internal/errkind"
	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
	"github.com/randomizedcoder/go-jar-supervisor/internal/logpump"
	"github.com/randomizedcoder/go-jar-supervisor/internal/process"
)

// =============================================================================
// Test doubles
// =============================================================================

// spyHandle is a process.Handle whose lifetime the test controls.
type spyHandle struct {
	pid int

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	// ignoreKill makes Kill a no-op, simulating a process that will not die.
	ignoreKill bool

	exitOnce sync.Once
	exited   chan struct{}

	kills atomic.Int32
	waits atomic.Int32
}

func newSpyHandle(pid int) *spyHandle {
	h := &spyHandle{pid: pid, exited: make(chan struct{})}
	h.stdoutR, h.stdoutW = io.Pipe()
	h.stderrR, h.stderrW = io.Pipe()
	return h
}

func (h *spyHandle) Pid() int              { return h.pid }
func (h *spyHandle) Stdout() io.ReadCloser { return h.stdoutR }
func (h *spyHandle) Stderr() io.ReadCloser { return h.stderrR }

func (h *spyHandle) Kill() error {
	h.kills.Add(1)
	if !h.ignoreKill {
		h.exit()
	}
	return nil
}

func (h *spyHandle) Wait() error {
	h.waits.Add(1)
	<-h.exited
	return nil
}

// exit simulates the process terminating: its streams reach EOF and Wait
// returns.
func (h *spyHandle) exit() {
	h.exitOnce.Do(func() {
		h.stdoutW.Close()
		h.stderrW.Close()
		close(h.exited)
	})
}

func (h *spyHandle) printStdout(line string) {
	io.WriteString(h.stdoutW, line+"\n")
}

func (h *spyHandle) printStderr(line string) {
	io.WriteString(h.stderrW, line+"\n")
}

// fakeLauncher hands out pre-built handles in order.
type fakeLauncher struct {
	mu       sync.Mutex
	handles  []*spyHandle
	err      error
	launched []string
}

func (l *fakeLauncher) Launch(artifact string) (process.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launched = append(l.launched, artifact)
	if len(l.handles) == 0 {
		return newSpyHandle(1000 + len(l.launched)), nil
	}
	h := l.handles[0]
	l.handles = l.handles[1:]
	return h, nil
}

func (l *fakeLauncher) Name() string { return "fake" }

func (l *fakeLauncher) CommandString(artifact string) string { return "fake " + artifact }

func (l *fakeLauncher) launches() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

// fakeNegotiator returns err and runs onCall first.
type fakeNegotiator struct {
	err    error
	onCall func()
	calls  atomic.Int32
	host   string
}

func (n *fakeNegotiator) AttemptGracefulShutdown(host string) error {
	n.calls.Add(1)
	n.host = host
	if n.onCall != nil {
		n.onCall()
	}
	return n.err
}

// fakeProber reports the port open for the first openFor probes.
type fakeProber struct {
	openFor int
	calls   atomic.Int32
	onProbe func(call int)
}

func (p *fakeProber) IsOpen(port int) bool {
	n := int(p.calls.Add(1))
	if p.onProbe != nil {
		p.onProbe(n)
	}
	return n <= p.openFor
}

// =============================================================================
// Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSupervisor creates a supervisor working in a temp dir that holds a
// server.jar. Sleeps are recorded instead of taken. Unless the test supplies
// one, the negotiator fails so Stop kills the spy and never blocks.
func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *events.Recorder, *[]time.Duration) {
	t.Helper()
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
		writeFile(t, filepath.Join(cfg.WorkDir, "server.jar"))
	}
	rec := &events.Recorder{}
	if cfg.Sink == nil {
		cfg.Sink = rec
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Prober == nil {
		cfg.Prober = &fakeProber{}
	}
	if cfg.Negotiator == nil {
		cfg.Negotiator = &fakeNegotiator{err: errkind.New(errkind.KindTransportError, "connection refused")}
	}
	s := New(cfg)

	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	s.sleep = func(d time.Duration) {
		mu.Lock()
		*sleeps = append(*sleeps, d)
		mu.Unlock()
	}
	return s, rec, sleeps
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("PK"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func linesContaining(rec *events.Recorder, substr string) int {
	n := 0
	for _, l := range rec.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// =============================================================================
// Start
// =============================================================================

func TestStart_EmitsStarting(t *testing.T) {
	h := newSpyHandle(42)
	launcher := &fakeLauncher{handles: []*spyHandle{h}}
	var started atomic.Int32
	s, rec, _ := newTestSupervisor(t, Config{
		Launcher: launcher,
		Callbacks: Callbacks{
			OnStart: func(instance string, pid int) {
				if pid == 42 {
					started.Add(1)
				}
			},
		},
	})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.exit()

	if got := rec.Statuses(); len(got) != 1 || got[0] != events.StatusStarting {
		t.Errorf("Statuses() = %v, want [starting]", got)
	}
	if s.State() != StateStarting {
		t.Errorf("State() = %v, want starting", s.State())
	}
	if !s.Running() || s.Pid() != 42 || s.Instance() == "" {
		t.Errorf("slot not populated: running=%v pid=%d instance=%q", s.Running(), s.Pid(), s.Instance())
	}
	if started.Load() != 1 {
		t.Error("OnStart not called with the process pid")
	}
	if got := launcher.launches(); len(got) != 1 || !filepath.IsAbs(got[0]) {
		t.Errorf("launched %v, want one absolute path", got)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	first := newSpyHandle(1)
	launcher := &fakeLauncher{handles: []*spyHandle{first}}
	s, rec, _ := newTestSupervisor(t, Config{Launcher: launcher})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.exit()
	instance := s.Instance()

	for i := 0; i < 3; i++ {
		err := s.Start("server.jar")
		if !errors.Is(err, errkind.ErrAlreadyRunning) {
			t.Fatalf("second Start() = %v, want AlreadyRunning", err)
		}
	}

	if s.Instance() != instance || s.Pid() != 1 {
		t.Error("rejected Start disturbed the running process")
	}
	if n := len(launcher.launches()); n != 1 {
		t.Errorf("launched %d processes, want 1", n)
	}
	if first.kills.Load() != 0 {
		t.Error("rejected Start killed the running process")
	}
	if rec.CountStatus(events.StatusStarting) != 1 {
		t.Error("rejected Start emitted starting")
	}
}

func TestStart_ArtifactNotFound(t *testing.T) {
	launcher := &fakeLauncher{}
	s, rec, _ := newTestSupervisor(t, Config{Launcher: launcher})

	err := s.Start("missing.jar")
	if !errors.Is(err, errkind.ErrArtifactNotFound) {
		t.Fatalf("Start() = %v, want ArtifactNotFound", err)
	}
	if !strings.Contains(err.Error(), "missing.jar") {
		t.Errorf("error %q should name the file", err)
	}
	if s.Running() {
		t.Error("slot occupied after failed Start")
	}
	if len(launcher.launches()) != 0 {
		t.Error("launcher called for a missing artifact")
	}
	if len(rec.Events()) != 0 {
		t.Error("failed Start emitted events")
	}
}

func TestStart_SpawnFailed(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New(`exec: "java": executable file not found in $PATH`)}
	s, _, _ := newTestSupervisor(t, Config{Launcher: launcher})

	err := s.Start("server.jar")
	if !errors.Is(err, errkind.ErrSpawnFailed) {
		t.Fatalf("Start() = %v, want SpawnFailed", err)
	}
	if s.Running() || s.State() != StateIdle {
		t.Error("slot occupied after spawn failure")
	}

	// The slot is reusable once the launcher recovers.
	launcher.err = nil
	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() after recovery error = %v", err)
	}
	s.Stop()
}

func TestResolveArtifact(t *testing.T) {
	s := New(Config{WorkDir: "/opt/app/bin", Logger: testLogger()})

	tests := []struct {
		in   string
		want string
	}{
		{"server.jar", "/opt/app/bin/server.jar"},
		{"../server.jar", "/opt/app/server.jar"},
		{"../lib/app.jar", "/opt/app/lib/app.jar"},
		{"/srv/server.jar", "/srv/server.jar"},
		{"lib/server.jar", "/opt/app/bin/lib/server.jar"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := s.ResolveArtifact(tt.in)
			if err != nil {
				t.Fatalf("ResolveArtifact() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveArtifact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStart_ParentRelativePath(t *testing.T) {
	root := t.TempDir()
	workDir := filepath.Join(root, "manager")
	if err := os.Mkdir(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "server.jar"))

	launcher := &fakeLauncher{}
	s, _, _ := newTestSupervisor(t, Config{Launcher: launcher, WorkDir: workDir})

	if err := s.Start("../server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	want := filepath.Join(root, "server.jar")
	if got := launcher.launches(); len(got) != 1 || got[0] != want {
		t.Errorf("launched %v, want %s", got, want)
	}
}

func TestStart_ReadinessFollowsStarting(t *testing.T) {
	h := newSpyHandle(7)
	var readyCalls atomic.Int32
	s, rec, _ := newTestSupervisor(t, Config{
		Launcher: &fakeLauncher{handles: []*spyHandle{h}},
		Callbacks: Callbacks{
			OnReady: func(string, time.Duration) { readyCalls.Add(1) },
		},
	})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.exit()

	h.printStdout("Starting StudentsApplication")
	h.printStderr("WARN something on stderr")
	h.printStdout(logpump.DefaultReadyMarker)
	h.printStdout("again " + logpump.DefaultReadyMarker)

	waitFor(t, "running", func() bool { return s.State() == StateRunning })
	waitFor(t, "log lines", func() bool { return len(rec.Lines()) == 4 })

	got := rec.Statuses()
	if len(got) != 2 || got[0] != events.StatusStarting || got[1] != events.StatusRunning {
		t.Errorf("Statuses() = %v, want [starting running]", got)
	}
	if readyCalls.Load() != 1 {
		t.Errorf("OnReady called %d times, want 1", readyCalls.Load())
	}
	for _, ev := range rec.Events() {
		if ev.Instance != s.Instance() {
			t.Errorf("event %+v not tagged with the running instance", ev)
		}
	}
}

func TestStart_CustomReadyMarker(t *testing.T) {
	h := newSpyHandle(8)
	s, _, _ := newTestSupervisor(t, Config{
		Launcher:    &fakeLauncher{handles: []*spyHandle{h}},
		ReadyMarker: "Started DemoApplication",
	})
	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.exit()

	h.printStdout(logpump.DefaultReadyMarker)
	h.printStdout("Started DemoApplication in 2.3 seconds")
	waitFor(t, "running", func() bool { return s.State() == StateRunning })
}

// =============================================================================
// Stop
// =============================================================================

func TestStop_EmptySlot(t *testing.T) {
	var mode StopMode = -1
	neg := &fakeNegotiator{}
	s, rec, _ := newTestSupervisor(t, Config{
		Launcher:   &fakeLauncher{},
		Negotiator: neg,
		Callbacks: Callbacks{
			OnStop: func(_ string, m StopMode, _ time.Duration) { mode = m },
		},
	})

	for i := 0; i < 2; i++ {
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	}

	if got := rec.CountStatus(events.StatusStopped); got != 2 {
		t.Errorf("stopped emitted %d times over two calls, want 2", got)
	}
	if neg.calls.Load() != 0 {
		t.Error("negotiator called with nothing running")
	}
	if mode != StopNoop {
		t.Errorf("mode = %v, want noop", mode)
	}
}

func TestStop_Graceful(t *testing.T) {
	h := newSpyHandle(10)
	neg := &fakeNegotiator{}
	// The port stays open for two probes, then the process exits.
	prober := &fakeProber{openFor: 2}
	prober.onProbe = func(call int) {
		if call == 3 {
			h.exit()
		}
	}

	var mode StopMode = -1
	s, rec, sleeps := newTestSupervisor(t, Config{
		Launcher:       &fakeLauncher{handles: []*spyHandle{h}},
		Negotiator:     neg,
		Prober:         prober,
		ManagementHost: "localhost",
		ManagementPort: 8080,
		Callbacks: Callbacks{
			OnStop: func(_ string, m StopMode, _ time.Duration) { mode = m },
		},
	})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if neg.host != "localhost:8080" {
		t.Errorf("negotiated with %q, want localhost:8080", neg.host)
	}
	if h.kills.Load() != 0 {
		t.Error("graceful stop must not kill")
	}
	if got := prober.calls.Load(); got != 3 {
		t.Errorf("probed %d times, want 3", got)
	}
	if len(*sleeps) != 3 {
		t.Errorf("slept %d times, want one per probe", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != DefaultPollInterval {
			t.Errorf("poll interval = %v, want %v", d, DefaultPollInterval)
		}
	}
	if got := linesContaining(rec, "Waiting for server to exit"); got != 2 {
		t.Errorf("progress lines = %d, want 2", got)
	}
	if linesContaining(rec, "1/15") != 1 || linesContaining(rec, "2/15") != 1 {
		t.Errorf("progress lines should count attempts: %q", rec.Lines())
	}
	if rec.CountStatus(events.StatusStopped) != 1 {
		t.Error("stopped must be emitted exactly once")
	}
	if mode != StopGraceful {
		t.Errorf("mode = %v, want graceful", mode)
	}
	if s.Running() || s.Instance() != "" || s.Pid() != 0 {
		t.Error("slot not cleared")
	}

	lines := rec.Lines()
	if !strings.HasPrefix(lines[0], "=== Stopping") {
		t.Errorf("first line = %q, want shutdown banner", lines[0])
	}
	if last := lines[len(lines)-1]; !strings.Contains(last, "management endpoint") {
		t.Errorf("last line = %q, want graceful closing banner", last)
	}
}

func TestStop_PollTimeoutKills(t *testing.T) {
	h := newSpyHandle(11)
	prober := &fakeProber{openFor: 1 << 30}

	var mode StopMode = -1
	s, rec, sleeps := newTestSupervisor(t, Config{
		Launcher:   &fakeLauncher{handles: []*spyHandle{h}},
		Negotiator: &fakeNegotiator{},
		Prober:     prober,
		Callbacks: Callbacks{
			OnStop: func(_ string, m StopMode, _ time.Duration) { mode = m },
		},
	})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := prober.calls.Load(); got != DefaultPollAttempts {
		t.Errorf("probed %d times, want %d", got, DefaultPollAttempts)
	}
	if len(*sleeps) != DefaultPollAttempts {
		t.Errorf("slept %d times, want %d", len(*sleeps), DefaultPollAttempts)
	}
	if h.kills.Load() != 1 {
		t.Errorf("kills = %d, want 1", h.kills.Load())
	}
	if linesContaining(rec, "Timed out") != 1 {
		t.Error("timeout not narrated")
	}
	if rec.CountStatus(events.StatusStopped) != 1 {
		t.Error("stopped must be emitted exactly once")
	}
	if mode != StopTimeout {
		t.Errorf("mode = %v, want timeout", mode)
	}
	if s.Running() {
		t.Error("slot not cleared")
	}
}

func TestStop_NegotiationFailureKillsWithoutPolling(t *testing.T) {
	failures := []error{
		errkind.Wrap(errkind.KindTransportError, errkind.New(errkind.KindConnectionFailed, "refused"), "shutdown request failed"),
		errkind.New(errkind.KindEndpointNotFound, "endpoint /actuator/shutdown not found"),
		errkind.New(errkind.KindMethodNotAllowed, "method POST not allowed"),
		errkind.New(errkind.KindAuthenticationRequired, "authentication required"),
		errkind.New(errkind.KindUnexpectedResponse, "unexpected response: HTTP/1.1 500"),
	}

	for _, failure := range failures {
		t.Run(errkind.KindOf(failure).String(), func(t *testing.T) {
			h := newSpyHandle(12)
			prober := &fakeProber{}
			var negotiated error
			s, rec, sleeps := newTestSupervisor(t, Config{
				Launcher:   &fakeLauncher{handles: []*spyHandle{h}},
				Negotiator: &fakeNegotiator{err: failure},
				Prober:     prober,
				Callbacks: Callbacks{
					OnNegotiate: func(_ string, err error) { negotiated = err },
				},
			})

			if err := s.Start("server.jar"); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if err := s.Stop(); err != nil {
				t.Fatalf("Stop() must absorb negotiation errors, got %v", err)
			}

			if h.kills.Load() != 1 {
				t.Errorf("kills = %d, want 1", h.kills.Load())
			}
			if prober.calls.Load() != 0 || len(*sleeps) != 0 {
				t.Error("forced stop must not poll")
			}
			if linesContaining(rec, "Waiting for server to exit") != 0 {
				t.Error("forced stop logged polling attempts")
			}
			if linesContaining(rec, failure.Error()) != 1 {
				t.Errorf("failure not narrated: %q", rec.Lines())
			}
			if !errors.Is(negotiated, failure) {
				t.Errorf("OnNegotiate got %v", negotiated)
			}
			if rec.CountStatus(events.StatusStopped) != 1 {
				t.Error("stopped must be emitted exactly once")
			}
			if s.Running() {
				t.Error("slot not cleared")
			}
		})
	}
}

func TestStop_CustomPolling(t *testing.T) {
	h := newSpyHandle(13)
	prober := &fakeProber{openFor: 100}
	s, _, sleeps := newTestSupervisor(t, Config{
		Launcher:     &fakeLauncher{handles: []*spyHandle{h}},
		Negotiator:   &fakeNegotiator{},
		Prober:       prober,
		PollAttempts: 3,
		PollInterval: 250 * time.Millisecond,
	})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Stop()

	if got := prober.calls.Load(); got != 3 {
		t.Errorf("probed %d times, want 3", got)
	}
	for _, d := range *sleeps {
		if d != 250*time.Millisecond {
			t.Errorf("interval = %v", d)
		}
	}
}

func TestStop_ReapTimeout(t *testing.T) {
	h := newSpyHandle(14)
	h.ignoreKill = true
	s, rec, _ := newTestSupervisor(t, Config{
		Launcher:    &fakeLauncher{handles: []*spyHandle{h}},
		Negotiator:  &fakeNegotiator{err: errkind.New(errkind.KindTransportError, "refused")},
		ReapTimeout: 50 * time.Millisecond,
	})
	defer h.exit()

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked despite ReapTimeout")
	}

	if s.Running() {
		t.Error("slot not cleared after reap timeout")
	}
	if linesContaining(rec, "did not exit") != 1 {
		t.Error("abandoned process not narrated")
	}
	if rec.CountStatus(events.StatusStopped) != 1 {
		t.Error("stopped must be emitted exactly once")
	}
}

func TestStop_ThenStartAgain(t *testing.T) {
	launcher := &fakeLauncher{}
	s, rec, _ := newTestSupervisor(t, Config{
		Launcher:   launcher,
		Negotiator: &fakeNegotiator{err: errkind.New(errkind.KindTransportError, "refused")},
	})

	var instances []string
	for i := 0; i < 3; i++ {
		if err := s.Start("server.jar"); err != nil {
			t.Fatalf("Start() #%d error = %v", i, err)
		}
		instances = append(instances, s.Instance())
		s.Stop()
	}

	if instances[0] == instances[1] || instances[1] == instances[2] {
		t.Errorf("instances not unique: %v", instances)
	}
	want := []events.Status{
		events.StatusStarting, events.StatusStopped,
		events.StatusStarting, events.StatusStopped,
		events.StatusStarting, events.StatusStopped,
	}
	got := rec.Statuses()
	if len(got) != len(want) {
		t.Fatalf("Statuses() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStop_BlocksConcurrentStart(t *testing.T) {
	h := newSpyHandle(15)
	next := newSpyHandle(16)
	release := make(chan struct{})
	probing := make(chan struct{})
	var once sync.Once

	prober := &fakeProber{openFor: 1}
	prober.onProbe = func(call int) {
		once.Do(func() { close(probing) })
		if call == 1 {
			<-release
		}
		if call == 2 {
			h.exit()
		}
		if call == 3 {
			next.exit()
		}
	}

	s, _, _ := newTestSupervisor(t, Config{
		Launcher:   &fakeLauncher{handles: []*spyHandle{h, next}},
		Negotiator: &fakeNegotiator{},
		Prober:     prober,
	})
	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()
	<-probing

	if s.State() != StateStopping {
		t.Errorf("State() = %v during Stop, want stopping", s.State())
	}

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start("server.jar") }()

	select {
	case err := <-startErr:
		t.Fatalf("Start returned %v while Stop was in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopDone

	select {
	case err := <-startErr:
		if err != nil {
			t.Fatalf("Start after Stop error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start still blocked after Stop returned")
	}
	s.Stop()
}

func TestSupervisor_UnexpectedExitNarrated(t *testing.T) {
	h := newSpyHandle(17)
	var exits, expectedExits atomic.Int32
	s, rec, _ := newTestSupervisor(t, Config{
		Launcher: &fakeLauncher{handles: []*spyHandle{h}},
		Callbacks: Callbacks{
			OnExit: func(_ string, _ int, _ time.Duration, expected bool) {
				exits.Add(1)
				if expected {
					expectedExits.Add(1)
				}
			},
		},
	})
	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.exit()
	waitFor(t, "exit narration", func() bool { return linesContaining(rec, "Server exited with code") == 1 })

	// The slot stays occupied until Stop.
	if !s.Running() {
		t.Error("slot cleared without Stop")
	}
	s.Stop()
	if exits.Load() != 1 {
		t.Errorf("OnExit called %d times, want 1", exits.Load())
	}
	if expectedExits.Load() != 0 {
		t.Error("an exit without Stop must be reported as unexpected")
	}
	if rec.CountStatus(events.StatusStopped) != 1 {
		t.Error("stopped must be emitted exactly once")
	}
}

// =============================================================================
// End to end
// =============================================================================

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestSupervisor_GracefulOverLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	h := newSpyHandle(20)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 1024)
		conn.Read(buf)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\n\r\n")
		conn.Close()

		// The server takes a moment to exit after accepting.
		time.Sleep(100 * time.Millisecond)
		ln.Close()
		h.exit()
	}()

	rec := &events.Recorder{}
	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, "server.jar"))
	s := New(Config{
		Launcher:       &fakeLauncher{handles: []*spyHandle{h}},
		Sink:           rec,
		ManagementHost: "127.0.0.1",
		ManagementPort: port,
		PollInterval:   50 * time.Millisecond,
		WorkDir:        workDir,
		Logger:         testLogger(),
	})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	begin := time.Now()
	s.Stop()

	if time.Since(begin) > 2*time.Second {
		t.Errorf("Stop took %v", time.Since(begin))
	}
	if h.kills.Load() != 0 {
		t.Error("graceful stop must not kill")
	}
	if rec.CountStatus(events.StatusStopped) != 1 {
		t.Error("stopped must be emitted exactly once")
	}
	if linesContaining(rec, "200 OK") == 0 {
		t.Error("server response not narrated")
	}
}

func TestSupervisor_RealProcessForcedStop(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	launcher := &process.ExecLauncher{
		ProcessName: "sh",
		Build: func(artifact string) (*exec.Cmd, error) {
			script := `echo "booting $1"; echo "` + logpump.DefaultReadyMarker + `"; echo oops >&2; exec sleep 30`
			return exec.Command("sh", "-c", script, "sh", artifact), nil
		},
	}

	rec := &events.Recorder{}
	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, "server.jar"))
	s := New(Config{
		Launcher:       launcher,
		Sink:           rec,
		ManagementHost: "127.0.0.1",
		ManagementPort: closedPort(t),
		WorkDir:        workDir,
		Logger:         testLogger(),
	})

	if err := s.Start("server.jar"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "running", func() bool { return s.State() == StateRunning })
	waitFor(t, "stderr line", func() bool { return linesContaining(rec, "oops") == 1 })

	begin := time.Now()
	s.Stop()

	if time.Since(begin) > 5*time.Second {
		t.Errorf("forced Stop took %v", time.Since(begin))
	}
	if linesContaining(rec, "Waiting for server to exit") != 0 {
		t.Error("connection refused must not poll")
	}
	if linesContaining(rec, "failed to connect") != 1 {
		t.Errorf("connection failure not narrated: %q", rec.Lines())
	}
	got := rec.Statuses()
	want := []events.Status{events.StatusStarting, events.StatusRunning, events.StatusStopped}
	if len(got) != len(want) {
		t.Fatalf("Statuses() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStopMode(t *testing.T) {
	tests := []struct {
		mode   StopMode
		name   string
		killed bool
	}{
		{StopNoop, "noop", false},
		{StopGraceful, "graceful", false},
		{StopTimeout, "timeout", true},
		{StopForced, "forced", true},
		{StopMode(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.mode.Killed(); got != tt.killed {
			t.Errorf("%s.Killed() = %v, want %v", tt.name, got, tt.killed)
		}
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		state    State
		name     string
		occupied bool
	}{
		{StateIdle, "idle", false},
		{StateStarting, "starting", true},
		{StateRunning, "running", true},
		{StateStopping, "stopping", true},
		{State(99), "unknown", true},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.state.Occupied(); got != tt.occupied {
			t.Errorf("%s.Occupied() = %v, want %v", tt.name, got, tt.occupied)
		}
	}
}
