// Package config provides configuration management for go-jar-supervisor.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds all configuration options for the supervisor.
type Config struct {
	// Server
	JarPath  string   `json:"jar_path"` // empty = locate automatically
	JavaPath string   `json:"java_path"`
	JavaMin  int      `json:"java_min"` // 0 = any version
	JVMArgs  []string `json:"jvm_args"`
	WorkDir  string   `json:"work_dir"` // empty = current directory

	// Management endpoint
	ManagementAddr string        `json:"management_addr"` // empty = localhost:<server port>
	ShutdownPath   string        `json:"shutdown_path"`
	UserAgent      string        `json:"user_agent"`
	ReadyMarker    string        `json:"ready_marker"`
	HTTPTimeout    time.Duration `json:"http_timeout"`

	// Stop policy
	StopAttempts int           `json:"stop_attempts"`
	StopInterval time.Duration `json:"stop_interval"`
	ReapTimeout  time.Duration `json:"reap_timeout"` // 0 = wait forever

	// Connection settings (application.yml)
	SettingsPath  string `json:"settings_path"`
	DBHost        string `json:"db_host"`
	DBUser        string `json:"db_user"`
	DBPassword    string `json:"-"`
	DBName        string `json:"db_name"`
	ServerPort    int    `json:"server_port"` // 0 = from settings file
	WriteSettings bool   `json:"write_settings"`
	WatchSettings bool   `json:"watch_settings"`

	// Observability
	MetricsAddr      string        `json:"metrics_addr"` // empty = disabled
	ActuatorMetrics  string        `json:"actuator_metrics"`
	ActuatorInterval time.Duration `json:"actuator_interval"`
	ActuatorWindow   time.Duration `json:"actuator_window"`
	Verbose          bool          `json:"verbose"`
	LogFormat        string        `json:"log_format"` // json, text

	// Dashboard
	TUIEnabled bool `json:"tui_enabled"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	SkipPreflight bool `json:"skip_preflight"`
	Version       bool `json:"version"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Server
		JavaPath: "java",

		// Management endpoint
		ShutdownPath: "/actuator/shutdown",
		UserAgent:    "go-jar-supervisor/1.0",
		ReadyMarker:  "Application started, application.yml is connected",
		HTTPTimeout:  5 * time.Second,

		// Stop policy
		StopAttempts: 15,
		StopInterval: time.Second,
		ReapTimeout:  0, // Unbounded

		// Settings
		SettingsPath: "application.yml",

		// Observability
		MetricsAddr:      "0.0.0.0:17091",
		ActuatorInterval: 2 * time.Second,
		ActuatorWindow:   30 * time.Second,
		Verbose:          false,
		LogFormat:        "json",

		// Dashboard
		TUIEnabled: true,
	}
}

// ManagementHostPort splits the management address. When ManagementAddr is
// empty the server port from the settings file is used on localhost.
func (c *Config) ManagementHostPort(settingsPort int) (string, int, error) {
	if c.ManagementAddr == "" {
		return "localhost", settingsPort, nil
	}
	host, portStr, err := net.SplitHostPort(c.ManagementAddr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid management address %q: %w", c.ManagementAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid management port %q", portStr)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}

// ActuatorMetricsEnabled returns true if the server's Prometheus endpoint
// should be scraped.
func (c *Config) ActuatorMetricsEnabled() bool {
	return c.ActuatorMetrics != ""
}

// SettingsOverridden returns true if any connection setting was given on
// the command line.
func (c *Config) SettingsOverridden() bool {
	return c.DBHost != "" || c.DBUser != "" || c.DBPassword != "" || c.DBName != "" || c.ServerPort != 0
}
