package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
	"github.com/randomizedcoder/go-jar-supervisor/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the whole screen: header, server panel, optional
// JVM panel, log tail and footer. The log tail gets whatever height is left.
func (m Model) renderDashboard() string {
	top := []string{
		m.renderHeader(),
		m.renderServer(),
	}
	if m.jvm != nil {
		top = append(top, m.renderJVM())
	}
	footer := m.renderFooter()

	used := 0
	for _, s := range top {
		used += lipgloss.Height(s)
	}
	used += lipgloss.Height(footer)

	sections := append(top, m.renderLog(m.height-used-3), footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-jar-supervisor │ %s │ Elapsed: %s ",
		GetStatusBadge(m.status, m.busy),
		stats.FormatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Server Panel
// =============================================================================

func (m Model) renderServer() string {
	rows := []string{
		RenderKeyValue("Artifact", orDash(m.artifact)),
		RenderKeyValue("Instance", orDash(shortID(m.instance))),
		RenderKeyValue("PID", orDash(pidString(m.pid))),
		RenderKeyValue("Uptime", stats.FormatDuration(m.Uptime())),
	}

	if l := m.life; l != nil {
		if l.ReadyCount > 0 {
			rows = append(rows, RenderKeyValue("Startup",
				fmt.Sprintf("%s (p50 %s)", stats.FormatMs(l.ReadyLast), stats.FormatMs(l.ReadyP50))))
		}
		if l.LastStop != "" {
			rows = append(rows, RenderKeyValue("Last Stop",
				fmt.Sprintf("%s in %s", l.LastStop, stats.FormatMs(l.LastStopDur))))
		}
		rows = append(rows, RenderKeyValue("Starts / Stops",
			fmt.Sprintf("%d / %d", l.Starts, totalStops(l))))
		if l.Unexpected > 0 {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Crashes:"),
				valueBadStyle.Render(fmt.Sprintf("%d", l.Unexpected)),
			))
		}
	}

	if m.lastErr != "" {
		rows = append(rows, statusError.Render("✗ "+m.lastErr))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Server")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func totalStops(l *stats.LifecycleStats) int64 {
	var n int64
	for _, c := range l.Stops {
		n += c
	}
	return n
}

// =============================================================================
// JVM Panel
// =============================================================================

func (m Model) renderJVM() string {
	j := m.jvm

	var rows []string
	if !j.Healthy {
		msg := "waiting for server"
		if m.status != events.StatusStopped && j.Error != "" {
			msg = j.Error
		}
		rows = append(rows, dimStyle.Render(msg))
	}

	if j.HeapMax > 0 || j.HeapUsed > 0 {
		barWidth := m.width - 40
		if barWidth > 40 {
			barWidth = 40
		}
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Heap:"),
				GetHeapStyle(j.HeapPercent).Render(
					fmt.Sprintf("%s / %s ", stats.FormatBytes(j.HeapUsed), stats.FormatBytes(j.HeapMax))),
				RenderProgressBar(j.HeapPercent/100, barWidth),
			),
			RenderKeyValue(fmt.Sprintf("Heap (%ds)", j.WindowSeconds),
				fmt.Sprintf("p50 %s  max %s",
					stats.FormatBytes(int64(j.HeapP50)), stats.FormatBytes(int64(j.HeapMaxWindow)))),
			RenderKeyValue("Threads", fmt.Sprintf("%d", j.LiveThreads)),
			RenderKeyValue("CPU", fmt.Sprintf("%.1f%%", j.CPUPercent)),
			RenderKeyValue("Requests", stats.FormatRate(j.ReqRate)),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("JVM")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Log Tail
// =============================================================================

func (m Model) renderLog(height int) string {
	if height < 3 {
		height = 3
	}

	lines := m.lines
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}

	maxWidth := m.width - 6
	rows := make([]string, 0, height+1)
	title := fmt.Sprintf("Log (%d lines)", len(m.lines))
	if m.rate != nil {
		title += fmt.Sprintf("  %s now, %s over 60s",
			stats.FormatRate(m.rate.Avg1s), stats.FormatRate(m.rate.Avg60s))
	}
	rows = append(rows, sectionHeaderStyle.Render(title))
	if len(lines) == 0 {
		rows = append(rows, dimStyle.Render("no output yet, press s to start"))
	}
	for _, l := range lines {
		rows = append(rows, GetLineStyle(l.stream).Render(truncate(l.text, maxWidth)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"s: start",
		"x: stop",
		"c: clear log",
		"q: quit",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// =============================================================================
// Formatting Helpers
// =============================================================================

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func pidString(pid int) string {
	if pid <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", pid)
}

// shortID trims a UUID to its first group.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// truncate cuts s to max display cells, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max < 4 || lipgloss.Width(s) <= max {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r)) > max-1 {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}
