package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════════════════════════\n"
	ruleLight = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Artifact is the jar that was supervised.
	Artifact string

	// Duration is the total run duration
	Duration time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// FinalStatus is the last status reported before exit.
	FinalStatus string

	// ErrorCounts maps failure patterns to how often they appeared in the
	// server's recent output.
	ErrorCounts map[string]int

	// LastLines is the server's most recent output, printed only when the
	// server exited unexpectedly.
	LastLines []string
}

// FormatExitSummary formats lifecycle stats for display at program exit.
func FormatExitSummary(ls *LifecycleStats, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	b.WriteString("                        go-jar-supervisor Exit Summary\n")
	b.WriteString(ruleHeavy + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.Artifact != "" {
		fmt.Fprintf(&b, "Artifact:               %s\n", cfg.Artifact)
	}
	if cfg.FinalStatus != "" {
		fmt.Fprintf(&b, "Final Status:           %s\n", cfg.FinalStatus)
	}
	b.WriteString("\n")

	if ls == nil {
		b.WriteString("(No server was started)\n\n")
		writeFooter(&b, cfg)
		return b.String()
	}

	section(&b, "Lifecycle")
	fmt.Fprintf(&b, "  Starts:               %d\n", ls.Starts)
	fmt.Fprintf(&b, "  Reached Ready:        %d\n", ls.ReadyCount)
	fmt.Fprintf(&b, "  Exits:                %d\n", ls.Exits)
	if ls.Unexpected > 0 {
		fmt.Fprintf(&b, "  Unexpected Exits:     %d\n", ls.Unexpected)
	}
	b.WriteString("\n")

	if ls.ReadyCount > 0 {
		section(&b, "Startup Latency")
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(ls.ReadyP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(ls.ReadyP95))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatMs(ls.ReadyMax))
		b.WriteString("\n")
	}

	if len(ls.StopModes) > 0 {
		section(&b, "Stops")
		fmt.Fprintf(&b, "  %-12s %8s %12s %12s\n", "Mode", "Count", "P50", "Max")
		b.WriteString("  " + strings.Repeat("─", 47) + "\n")
		for _, mode := range ls.StopModes {
			fmt.Fprintf(&b, "  %-12s %8d %12s %12s\n",
				mode,
				ls.Stops[mode],
				FormatMs(ls.StopP50[mode]),
				FormatMs(ls.StopMax[mode]),
			)
		}
		if ls.Negotiations > 0 {
			fmt.Fprintf(&b, "\n  Shutdown Requests:    %d (%d accepted)\n", ls.Negotiations, ls.Accepted)
		}
		b.WriteString("\n")
	}

	if ls.Exits > 0 {
		section(&b, "Uptime")
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatDuration(ls.UptimeP50))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatDuration(ls.UptimeMax))
		b.WriteString("\n")
	}

	if len(ls.ExitCodes) > 0 {
		section(&b, "Exit Codes")

		// Sort exit codes for consistent output
		codes := make([]int, 0, len(ls.ExitCodes))
		for code := range ls.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), ls.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if len(cfg.ErrorCounts) > 0 {
		section(&b, "Server Errors")
		patterns := make([]string, 0, len(cfg.ErrorCounts))
		for p := range cfg.ErrorCounts {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)
		for _, p := range patterns {
			fmt.Fprintf(&b, "  %-32s %d\n", p, cfg.ErrorCounts[p])
		}
		b.WriteString("\n")
	}

	if ls.Unexpected > 0 && len(cfg.LastLines) > 0 {
		section(&b, "Last Server Output")
		for _, line := range cfg.LastLines {
			b.WriteString("  " + line + "\n")
		}
		b.WriteString("\n")
	}

	writeFooter(&b, cfg)
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(ruleLight)
	pad := (79 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(ruleLight + "\n")
}

func writeFooter(b *strings.Builder, cfg SummaryConfig) {
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(ruleHeavy)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
