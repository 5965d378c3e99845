// Package tui provides a live terminal dashboard for the supervised server.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - Server status, instance, PID and uptime
// - Startup latency and the outcome of the last stop
// - JVM metrics scraped from the server (optional)
// - The interleaved log of the server and the supervisor
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	// Box/panel styles
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	// Header style
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	// Section header style
	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	// Footer style
	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(18)
)

// =============================================================================
// Log Line Styles
// =============================================================================

var (
	logStdoutStyle = lipgloss.NewStyle().
			Foreground(colorText)

	logStderrStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	logSupervisorStyle = lipgloss.NewStyle().
				Foreground(colorSecondary)
)

// GetLineStyle returns the style for a log line from stream.
func GetLineStyle(stream events.Stream) lipgloss.Style {
	switch stream {
	case events.StreamStderr:
		return logStderrStyle
	case events.StreamSupervisor:
		return logSupervisorStyle
	default:
		return logStdoutStyle
	}
}

// =============================================================================
// Progress Bar Styles
// =============================================================================

var (
	progressBarStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// =============================================================================
// Status Badge
// =============================================================================

// GetStatusStyle returns the style for a server status.
func GetStatusStyle(s events.Status) lipgloss.Style {
	switch s {
	case events.StatusRunning:
		return statusOK
	case events.StatusStarting:
		return statusInfo
	default:
		return statusError
	}
}

// GetStatusBadge returns a styled status indicator. busy marks a start or
// stop request still in flight.
func GetStatusBadge(s events.Status, busy bool) string {
	label := string(s)
	if label == "" {
		label = string(events.StatusStopped)
	}
	if busy && s != events.StatusStarting {
		return statusWarning.Render("● " + label + " (working...)")
	}
	return GetStatusStyle(s).Render("● " + label)
}

// =============================================================================
// Heap Indicator
// =============================================================================

// GetHeapStyle returns a style based on heap usage percentage (0-100).
func GetHeapStyle(percent float64) lipgloss.Style {
	switch {
	case percent >= 90:
		return valueBadStyle
	case percent >= 75:
		return valueWarnStyle
	default:
		return valueGoodStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
