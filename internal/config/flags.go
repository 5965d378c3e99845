package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// argList is a custom flag type for repeatable -jvm-arg flags.
type argList []string

func (a *argList) String() string {
	return strings.Join(*a, " ")
}

func (a *argList) Set(value string) error {
	*a = append(*a, value)
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(flag.CommandLine, os.Args[1:])
}

// ParseArgs parses args with fs. The flag set should use
// flag.ExitOnError or flag.ContinueOnError; parse errors are returned.
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()
	var jvmArgs argList

	// Custom usage message
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, `go-jar-supervisor - start, watch and gracefully stop a java -jar server

Usage:
  go-jar-supervisor [flags] [JAR]

If JAR is omitted, server.jar is looked up in the working directory, then
in its parent, then any *.jar in the parent is used.

Server:
`)
		printFlagCategory(fs, out, []string{"jar", "java", "java-min", "jvm-arg", "workdir"})

		fmt.Fprintf(out, "\nManagement Endpoint:\n")
		printFlagCategory(fs, out, []string{"management-addr", "shutdown-path", "user-agent", "ready-marker", "http-timeout"})

		fmt.Fprintf(out, "\nStop Policy:\n")
		printFlagCategory(fs, out, []string{"stop-attempts", "stop-interval", "reap-timeout"})

		fmt.Fprintf(out, "\nConnection Settings (application.yml):\n")
		printFlagCategory(fs, out, []string{"settings", "db-host", "db-user", "db-password", "db-name", "server-port", "write-settings", "watch-settings"})

		fmt.Fprintf(out, "\nObservability:\n")
		printFlagCategory(fs, out, []string{"metrics", "actuator-metrics", "actuator-interval", "actuator-window", "v", "log-format"})

		fmt.Fprintf(out, "\nDashboard:\n")
		printFlagCategory(fs, out, []string{"tui"})

		fmt.Fprintf(out, "\nDiagnostics:\n")
		printFlagCategory(fs, out, []string{"print-cmd", "skip-preflight", "version"})

		fmt.Fprintf(out, `
Flag Convention:
  Single-dash flags (-jar, -java) are normal options.
  Double-dash flags (--print-cmd, --skip-preflight) are diagnostic modes.

Examples:
  # Run ./server.jar with the dashboard
  go-jar-supervisor

  # Headless, point the server at another database first
  go-jar-supervisor -tui=false -db-host db.internal:5432 -write-settings ../students.jar

  # Scrape the server's own metrics into the dashboard
  go-jar-supervisor -actuator-metrics http://localhost:8080/actuator/prometheus

`)
	}

	// Server
	fs.StringVar(&cfg.JarPath, "jar", cfg.JarPath, "Server jar (default: auto-detect)")
	fs.StringVar(&cfg.JavaPath, "java", cfg.JavaPath, "Path to java binary")
	fs.IntVar(&cfg.JavaMin, "java-min", cfg.JavaMin, "Minimum java feature release checked at preflight (0 = any)")
	fs.Var(&jvmArgs, "jvm-arg", "JVM argument placed before -jar (can repeat)")
	fs.StringVar(&cfg.WorkDir, "workdir", cfg.WorkDir, "Working directory of the server (default: current directory)")

	// Management endpoint
	fs.StringVar(&cfg.ManagementAddr, "management-addr", cfg.ManagementAddr, "Management host:port (default: localhost:<server port>)")
	fs.StringVar(&cfg.ShutdownPath, "shutdown-path", cfg.ShutdownPath, "Shutdown endpoint path")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent sent to the management endpoint")
	fs.StringVar(&cfg.ReadyMarker, "ready-marker", cfg.ReadyMarker, "Stdout text that marks the server ready")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "Read/write timeout of the shutdown request")

	// Stop policy
	fs.IntVar(&cfg.StopAttempts, "stop-attempts", cfg.StopAttempts, "Port checks after the server accepts shutdown")
	fs.DurationVar(&cfg.StopInterval, "stop-interval", cfg.StopInterval, "Pause before each port check")
	fs.DurationVar(&cfg.ReapTimeout, "reap-timeout", cfg.ReapTimeout, "Give up waiting for a killed process after this long (0 = wait forever)")

	// Connection settings
	fs.StringVar(&cfg.SettingsPath, "settings", cfg.SettingsPath, "Path to application.yml")
	fs.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "Database host:port")
	fs.StringVar(&cfg.DBUser, "db-user", cfg.DBUser, "Database user")
	fs.StringVar(&cfg.DBPassword, "db-password", cfg.DBPassword, "Database password")
	fs.StringVar(&cfg.DBName, "db-name", cfg.DBName, "Database name")
	fs.IntVar(&cfg.ServerPort, "server-port", cfg.ServerPort, "Server port written to settings")
	fs.BoolVar(&cfg.WriteSettings, "write-settings", cfg.WriteSettings, "Write the connection settings before starting")
	fs.BoolVar(&cfg.WatchSettings, "watch-settings", cfg.WatchSettings, "Report changes to the settings file while running")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty to disable)")
	fs.StringVar(&cfg.ActuatorMetrics, "actuator-metrics", cfg.ActuatorMetrics,
		"Server Prometheus endpoint (e.g., http://localhost:8080/actuator/prometheus). "+
			"If empty, server metrics are not scraped.")
	fs.DurationVar(&cfg.ActuatorInterval, "actuator-interval", cfg.ActuatorInterval, "Interval for scraping server metrics")
	fs.DurationVar(&cfg.ActuatorWindow, "actuator-window", cfg.ActuatorWindow,
		"Rolling window for heap percentiles. Range: 10s-300s.")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	// Dashboard
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard (use -tui=false to disable)")

	// Diagnostics (double-dash convention)
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the java command and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.Version, "version", cfg.Version, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.JVMArgs = jvmArgs

	// Positional argument: jar path
	if rest := fs.Args(); len(rest) >= 1 && cfg.JarPath == "" {
		cfg.JarPath = rest[0]
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, out io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(out, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(out, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(out)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
