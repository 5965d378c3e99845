package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
	"github.com/randomizedcoder/go-jar-supervisor/internal/metrics"
	"github.com/randomizedcoder/go-jar-supervisor/internal/stats"
	"github.com/randomizedcoder/go-jar-supervisor/internal/timeseries"
)

// DefaultLogLines is how many log lines the dashboard keeps.
const DefaultLogLines = 500

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// EventMsg carries one supervisor event.
type EventMsg events.Event

// eventsClosedMsg is sent once the event channel is closed.
type eventsClosedMsg struct{}

// ActionMsg reports the result of a start or stop request.
type ActionMsg struct {
	Action string // "start" or "stop"
	Err    error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Controller starts and stops the server. Stop may block for the whole
// shutdown sequence, so both are called from commands, never from Update.
type Controller interface {
	Start() error
	Stop() error
	Pid() int
	Instance() string
}

// LifecycleSource provides lifecycle statistics.
type LifecycleSource interface {
	Snapshot() *stats.LifecycleStats
}

// RateSource provides the server's log line rate.
type RateSource interface {
	GetStats() timeseries.RateStats
}

// Config holds TUI configuration.
type Config struct {
	Artifact    string
	MetricsAddr string
	Events      <-chan events.Event
	Controller  Controller
	Lifecycle   LifecycleSource
	Scraper     *metrics.ActuatorScraper
	LogRate     RateSource

	// LogLines caps the log buffer. Zero means DefaultLogLines.
	LogLines int
}

// logLine is one buffered log line.
type logLine struct {
	stream events.Stream
	text   string
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	artifact    string
	metricsAddr string
	maxLines    int

	// Sources
	events     <-chan events.Event
	controller Controller
	lifecycle  LifecycleSource
	scraper    *metrics.ActuatorScraper
	logRate    RateSource

	// Current state
	status     events.Status
	startedAt  time.Time
	instance   string
	pid        int
	busy       bool
	lastErr    string
	lines      []logLine
	life       *stats.LifecycleStats
	jvm        *metrics.JVMMetrics
	rate       *timeseries.RateStats
	startTime  time.Time
	lastUpdate time.Time

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	maxLines := cfg.LogLines
	if maxLines <= 0 {
		maxLines = DefaultLogLines
	}
	now := time.Now()
	return Model{
		artifact:    cfg.Artifact,
		metricsAddr: cfg.MetricsAddr,
		maxLines:    maxLines,
		events:      cfg.Events,
		controller:  cfg.Controller,
		lifecycle:   cfg.Lifecycle,
		scraper:     cfg.Scraper,
		logRate:     cfg.LogRate,
		status:      events.StatusStopped,
		startTime:   now,
		lastUpdate:  now,
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tea.Batch(tickCmd(), waitForEvent(m.events))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.busy || m.controller == nil || m.status != events.StatusStopped {
				return m, nil
			}
			m.busy = true
			m.lastErr = ""
			return m, actionCmd("start", m.controller.Start)
		case "x":
			if m.busy || m.controller == nil {
				return m, nil
			}
			m.busy = true
			m.lastErr = ""
			return m, actionCmd("stop", m.controller.Stop)
		case "c":
			m.lines = nil
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case EventMsg:
		m.apply(events.Event(msg))
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case ActionMsg:
		m.busy = false
		if msg.Err != nil {
			m.lastErr = msg.Action + ": " + msg.Err.Error()
		}
		m.refresh()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// apply folds one event into the model.
func (m *Model) apply(ev events.Event) {
	switch ev.Kind {
	case events.KindStatus:
		if ev.Status == events.StatusStarting {
			m.startedAt = ev.Time
		}
		m.status = ev.Status
		if ev.Status == events.StatusStopped {
			m.pid = 0
			m.instance = ""
		} else if ev.Instance != "" {
			m.instance = ev.Instance
		}
	case events.KindLog:
		m.lines = append(m.lines, logLine{stream: ev.Stream, text: ev.Line})
		if over := len(m.lines) - m.maxLines; over > 0 {
			m.lines = append(m.lines[:0:0], m.lines[over:]...)
		}
	}
}

// refresh pulls the latest values from the sources.
func (m *Model) refresh() {
	if m.controller != nil {
		m.pid = m.controller.Pid()
		if id := m.controller.Instance(); id != "" {
			m.instance = id
		}
	}
	if m.lifecycle != nil {
		m.life = m.lifecycle.Snapshot()
	}
	if m.scraper != nil {
		m.jvm = m.scraper.GetMetrics()
	}
	if m.logRate != nil {
		r := m.logRate.GetStats()
		m.rate = &r
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// waitForEvent blocks on the next event. A nil channel disables it.
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg(ev)
	}
}

func actionCmd(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return ActionMsg{Action: action, Err: fn()}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Status returns the last reported server status.
func (m Model) Status() events.Status {
	return m.status
}

// Uptime returns the time since the server was spawned, or zero when
// stopped.
func (m Model) Uptime() time.Duration {
	if m.status == events.StatusStopped || m.startedAt.IsZero() {
		return 0
	}
	return time.Since(m.startedAt)
}

// Busy reports whether a start or stop request is in flight.
func (m Model) Busy() bool {
	return m.busy
}

// LineCount returns the number of buffered log lines.
func (m Model) LineCount() int {
	return len(m.lines)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
