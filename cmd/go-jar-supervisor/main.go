// Package main provides the go-jar-supervisor CLI entry point.
//
// go-jar-supervisor starts a `java -jar` server, forwards its output, and
// stops it through the Spring Boot actuator shutdown endpoint, killing it
// only when the server does not go away on its own.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/randomizedcoder/go-jar-supervisor/internal/config"
	"github.com/randomizedcoder/go-jar-supervisor/internal/logging"
	"github.com/randomizedcoder/go-jar-supervisor/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-jar-supervisor
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-jar-supervisor %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}
	if cfg.Version {
		fmt.Printf("go-jar-supervisor %s\n", version)
		return 0
	}

	// The dashboard needs a terminal; fall back to headless otherwise.
	if cfg.TUIEnabled && !term.IsTerminal(int(os.Stdout.Fd())) {
		cfg.TUIEnabled = false
	}

	// When the dashboard owns the terminal, logs would corrupt it.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	orch, err := orchestrator.New(cfg, logger, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Handle --print-cmd mode
	if cfg.PrintCmd {
		printJavaCommand(orch)
		return 0
	}

	logger.Info("starting",
		"version", version,
		"artifact", orch.Artifact(),
		"management_addr", orch.Supervisor().ManagementAddr(),
		"metrics_addr", cfg.MetricsAddr,
		"tui", cfg.TUIEnabled,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg, orch)
	}

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		if cfg.TUIEnabled {
			// the logger is discarding
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, orch *orchestrator.Orchestrator) {
	s := orch.Settings()
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        go-jar-supervisor                          ║")
	fmt.Println("║        Start, watch and gracefully stop a java -jar server        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Artifact:    %s\n", orch.Artifact())
	fmt.Printf("  Database:    %s (user %s)\n", s.URL(), s.User)
	fmt.Printf("  Management:  http://%s%s\n", orch.Supervisor().ManagementAddr(), cfg.ShutdownPath)
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

// printJavaCommand prints the command that Start would run.
func printJavaCommand(orch *orchestrator.Orchestrator) {
	path, err := orch.Supervisor().ResolveArtifact(orch.Artifact())
	if err != nil {
		path = orch.Artifact()
	}

	fmt.Println("# java command that would be run:")
	fmt.Println()
	fmt.Println(orch.Runner().CommandString(path))
}
