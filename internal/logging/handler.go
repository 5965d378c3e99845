package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
)

const (
	// MaxLineLength is the maximum length of a line as logged. The event
	// itself is never truncated.
	MaxLineLength = 4096

	// MaxBufferedLines is how many recent lines OutputHandler keeps.
	MaxBufferedLines = 1000
)

// OutputHandler mirrors supervisor events into a slog.Logger and keeps the
// most recent log lines for the exit summary. It implements events.Sink.
type OutputHandler struct {
	logger *slog.Logger

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	count  int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler logging to logger.
func NewOutputHandler(logger *slog.Logger) *OutputHandler {
	return &OutputHandler{
		logger: logger,
		buffer: make([]string, MaxBufferedLines),
	}
}

// Emit implements events.Sink.
func (h *OutputHandler) Emit(ev events.Event) {
	if ev.Kind == events.KindStatus {
		h.logger.Info("server_status",
			"instance", ev.Instance,
			"status", string(ev.Status),
		)
		return
	}
	h.HandleLine(ev.Instance, ev.Stream, ev.Line)
}

// HandleLine records and logs one line.
func (h *OutputHandler) HandleLine(instance string, stream events.Stream, line string) {
	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	if h.count < MaxBufferedLines {
		h.count++
	}
	h.mu.Unlock()

	logged := line
	if len(logged) > MaxLineLength {
		logged = logged[:MaxLineLength] + "...(truncated)"
	}

	if stream == events.StreamSupervisor {
		h.logger.Info("supervisor_log", "instance", instance, "line", logged)
		return
	}

	h.logger.Log(context.Background(), ClassifyLine(line), "server_output",
		"instance", instance,
		"stream", string(stream),
		"line", logged,
	)
}

// ClassifyLine determines the log level for a server line from the level
// column Spring Boot prints, falling back to exception markers.
func ClassifyLine(line string) slog.Level {
	trimmed := strings.TrimSpace(line)

	switch {
	case containsLevel(line, "ERROR"), containsLevel(line, "FATAL"):
		return slog.LevelError
	case strings.HasPrefix(trimmed, "Caused by:"),
		strings.HasPrefix(trimmed, "Exception in thread"):
		return slog.LevelError
	case containsLevel(line, "WARN"):
		return slog.LevelWarn
	case containsLevel(line, "INFO"):
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// containsLevel matches a level name as a separate word, so "INFO" does not
// match "INFORMATION".
func containsLevel(line, level string) bool {
	for i := 0; ; {
		j := strings.Index(line[i:], level)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(level)
		before := start == 0 || !isWordByte(line[start-1])
		after := end == len(line) || !isWordByte(line[end])
		if before && after {
			return true
		}
		i = end
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > h.count {
		n = h.count
	}

	lines := make([]string, 0, n)

	// Read from circular buffer in order
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}

	return lines
}

// ErrorPatterns are common failure patterns to extract for the exit summary.
var ErrorPatterns = []string{
	"Exception",
	"Caused by",
	"Connection refused",
	"Address already in use",
	"OutOfMemoryError",
	"APPLICATION FAILED TO START",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for i := 0; i < h.count; i++ {
		line := h.buffer[i]
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}

// Ensure OutputHandler implements events.Sink
var _ events.Sink = (*OutputHandler)(nil)
