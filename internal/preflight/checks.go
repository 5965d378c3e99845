// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-jar-supervisor/internal/netprobe"
	"github.com/randomizedcoder/go-jar-supervisor/internal/process"
	"github.com/randomizedcoder/go-jar-supervisor/internal/settings"
	"github.com/randomizedcoder/go-jar-supervisor/internal/stats"
)

const (
	// A Spring Boot server with a connection pool and an embedded web
	// server holds a few hundred descriptors.
	minFileDescriptors = 1024

	minProcesses = 512
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options configures RunAll.
type Options struct {
	// JavaPath is the java binary to probe.
	JavaPath string

	// MinJavaMajor is the lowest acceptable feature release. Zero accepts any.
	MinJavaMajor int

	// Artifact is the resolved jar path.
	Artifact string

	// ManagementHost and ManagementPort locate the server's port.
	ManagementHost string
	ManagementPort int

	// SettingsPath is the application.yml the server reads.
	SettingsPath string
}

// RunAll executes all preflight checks.
func RunAll(ctx context.Context, opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkJava(ctx, opts.JavaPath, opts.MinJavaMajor))
	add(checkArtifact(opts.Artifact))
	add(checkFileDescriptors())
	add(checkProcessLimit())

	// Warnings only
	add(checkManagementPort(netprobe.Prober{Host: opts.ManagementHost}, opts.ManagementPort))
	add(checkSettings(opts.SettingsPath))

	return result
}

// checkJava verifies java is available and recent enough.
func checkJava(ctx context.Context, path string, minMajor int) Check {
	if path == "" {
		path = "java"
	}
	info, err := process.ProbeJava(ctx, path)
	if err != nil {
		return Check{
			Name:    "java",
			Passed:  false,
			Message: fmt.Sprintf("not usable at %s: %v", path, err),
		}
	}
	if minMajor > 0 && info.Major > 0 && info.Major < minMajor {
		return Check{
			Name:     "java",
			Required: minMajor,
			Actual:   info.Major,
			Passed:   false,
			Message:  fmt.Sprintf("%s %s is older than %d", info.Vendor, info.Version, minMajor),
		}
	}
	return Check{
		Name:    "java",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (%s %s)", path, info.Vendor, info.Version),
	}
}

// checkArtifact verifies the jar exists and is a regular file.
func checkArtifact(path string) Check {
	fi, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "artifact",
			Passed:  false,
			Message: fmt.Sprintf("file %s not found", path),
		}
	}
	if !fi.Mode().IsRegular() {
		return Check{
			Name:    "artifact",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a regular file", path),
		}
	}
	return Check{
		Name:    "artifact",
		Passed:  true,
		Message: fmt.Sprintf("%s (%s)", path, stats.FormatBytes(fi.Size())),
	}
}

// portProber is satisfied by netprobe.Prober.
type portProber interface {
	IsOpen(port int) bool
}

// checkManagementPort warns when something already listens on the server's
// port: the new server would fail to bind and a stop request would reach the
// other process.
func checkManagementPort(p portProber, port int) Check {
	if p.IsOpen(port) {
		return Check{
			Name:    "management_port",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("port %d is already in use", port),
		}
	}
	return Check{
		Name:    "management_port",
		Passed:  true,
		Message: fmt.Sprintf("port %d is free", port),
	}
}

// checkSettings warns when the server has no application.yml to read.
func checkSettings(path string) Check {
	if path == "" {
		path = settings.DefaultPath
	}
	if !settings.NewStore(path).Exists() {
		return Check{
			Name:    "settings",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s not found, the server will use its built-in defaults", path),
		}
	}
	return Check{
		Name:    "settings",
		Passed:  true,
		Message: path,
	}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: minFileDescriptors,
		Actual:   actual,
		Passed:   actual >= minFileDescriptors,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, minFileDescriptors),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
// JVM threads count against the process limit on Linux.
func checkProcessLimit() Check {
	required := minProcesses

	// Read soft limit from /proc/self/limits
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	// Parse "Max processes" line
	actual := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[3] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[3], "%d", &actual)
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 4096 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "java":
		return "install a JDK (apt install openjdk-17-jre-headless) or pass -java"
	case "artifact":
		return "build the server jar or pass -jar"
	default:
		return "see documentation"
	}
}
