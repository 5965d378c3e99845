package config

import (
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
	"time"
)

// Test argList type
func TestArgList(t *testing.T) {
	var a argList
	if a.String() != "" {
		t.Errorf("empty String() = %q", a.String())
	}

	a.Set("-Xmx512m")
	a.Set("-Dspring.profiles.active=dev")
	if len(a) != 2 || a[1] != "-Dspring.profiles.active=dev" {
		t.Errorf("After Set: %v", a)
	}
	if a.String() != "-Xmx512m -Dspring.profiles.active=dev" {
		t.Errorf("String() = %q", a.String())
	}
}

func TestFlagType(t *testing.T) {
	testCases := []struct {
		name     string
		defValue string
		expected string
	}{
		{"bool true", "true", ""},
		{"bool false", "false", ""},
		{"int", "42", "int"},
		{"string", "hello", "string"},
		{"duration seconds", "5s", "duration"},
		{"duration minutes", "5m", "duration"},
		{"empty", "", "string"},
		{"zero", "0", "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &flag.Flag{DefValue: tc.defValue}
			if got := flagType(f); got != tc.expected {
				t.Errorf("flagType(%q) = %q, want %q", tc.defValue, got, tc.expected)
			}
		})
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("go-jar-supervisor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseArgs_Defaults(t *testing.T) {
	cfg, err := ParseArgs(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.JavaPath != def.JavaPath || cfg.StopAttempts != def.StopAttempts || cfg.HTTPTimeout != def.HTTPTimeout {
		t.Errorf("ParseArgs(nil) did not return defaults: %+v", cfg)
	}
	if len(cfg.JVMArgs) != 0 {
		t.Errorf("JVMArgs = %v, want empty", cfg.JVMArgs)
	}
}

func TestParseArgs(t *testing.T) {
	args := []string{
		"-java", "/opt/jdk/bin/java",
		"-java-min", "17",
		"-jvm-arg", "-Xmx1g",
		"-jvm-arg", "-Duser.timezone=UTC",
		"-management-addr", "127.0.0.1:9090",
		"-stop-attempts", "5",
		"-stop-interval", "500ms",
		"-reap-timeout", "10s",
		"-db-host", "db:5432",
		"-write-settings",
		"-tui=false",
		"--print-cmd",
		"../students.jar",
	}

	cfg, err := ParseArgs(newFlagSet(), args)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}

	if cfg.JavaPath != "/opt/jdk/bin/java" || cfg.JavaMin != 17 {
		t.Errorf("JavaPath = %q, JavaMin = %d", cfg.JavaPath, cfg.JavaMin)
	}
	if strings.Join(cfg.JVMArgs, " ") != "-Xmx1g -Duser.timezone=UTC" {
		t.Errorf("JVMArgs = %v", cfg.JVMArgs)
	}
	if cfg.ManagementAddr != "127.0.0.1:9090" {
		t.Errorf("ManagementAddr = %q", cfg.ManagementAddr)
	}
	if cfg.StopAttempts != 5 || cfg.StopInterval != 500*time.Millisecond || cfg.ReapTimeout != 10*time.Second {
		t.Errorf("stop policy = %d/%v/%v", cfg.StopAttempts, cfg.StopInterval, cfg.ReapTimeout)
	}
	if cfg.DBHost != "db:5432" || !cfg.WriteSettings || !cfg.SettingsOverridden() {
		t.Error("settings flags not parsed")
	}
	if cfg.TUIEnabled || !cfg.PrintCmd {
		t.Error("bool flags not parsed")
	}
	if cfg.JarPath != "../students.jar" {
		t.Errorf("JarPath = %q, want positional argument", cfg.JarPath)
	}
}

func TestParseArgs_JarFlagWinsOverPositional(t *testing.T) {
	cfg, err := ParseArgs(newFlagSet(), []string{"-jar", "a.jar", "b.jar"})
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.JarPath != "a.jar" {
		t.Errorf("JarPath = %q, want a.jar", cfg.JarPath)
	}
}

func TestParseArgs_BadFlag(t *testing.T) {
	if _, err := ParseArgs(newFlagSet(), []string{"-stop-attempts", "many"}); err == nil {
		t.Error("expected error for non-numeric -stop-attempts")
	}
}

func TestParseArgs_Usage(t *testing.T) {
	fs := newFlagSet()
	var out strings.Builder
	if _, err := ParseArgs(fs, nil); err != nil {
		t.Fatal(err)
	}
	fs.SetOutput(&out)
	fs.Usage()

	for _, want := range []string{"Stop Policy:", "-reap-timeout", "-actuator-metrics", "(default /actuator/shutdown)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StopAttempts != 15 {
		t.Errorf("StopAttempts = %d, want 15", cfg.StopAttempts)
	}
	if cfg.StopInterval != time.Second {
		t.Errorf("StopInterval = %v, want 1s", cfg.StopInterval)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("HTTPTimeout = %v, want 5s", cfg.HTTPTimeout)
	}
	if cfg.ReapTimeout != 0 {
		t.Errorf("ReapTimeout = %v, want unbounded", cfg.ReapTimeout)
	}
	if cfg.ShutdownPath != "/actuator/shutdown" {
		t.Errorf("ShutdownPath = %q", cfg.ShutdownPath)
	}
	if cfg.SettingsPath != "application.yml" {
		t.Errorf("SettingsPath = %q", cfg.SettingsPath)
	}
	if !cfg.TUIEnabled {
		t.Error("TUI should be enabled by default")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() does not validate: %v", err)
	}
}

func TestManagementHostPort(t *testing.T) {
	tests := []struct {
		addr     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"", "localhost", 8081, false},
		{"127.0.0.1:9090", "127.0.0.1", 9090, false},
		{":9090", "localhost", 9090, false},
		{"[::1]:8080", "::1", 8080, false},
		{"localhost", "", 0, true},
		{"localhost:http", "", 0, true},
		{"localhost:70000", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			cfg := &Config{ManagementAddr: tt.addr}
			host, port, err := cfg.ManagementHostPort(8081)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ManagementHostPort() error = %v, wantErr %v", err, tt.wantErr)
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("ManagementHostPort() = %s, %d; want %s, %d", host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string // empty = valid
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty java", func(c *Config) { c.JavaPath = "" }, "java_path"},
		{"negative java min", func(c *Config) { c.JavaMin = -1 }, "java_min"},
		{"not a jar", func(c *Config) { c.JarPath = "server.war" }, "jar_path"},
		{"uppercase jar", func(c *Config) { c.JarPath = "SERVER.JAR" }, ""},
		{"bad management addr", func(c *Config) { c.ManagementAddr = "nope" }, "management_addr"},
		{"relative shutdown path", func(c *Config) { c.ShutdownPath = "actuator/shutdown" }, "shutdown_path"},
		{"header injection", func(c *Config) { c.UserAgent = "x\r\nEvil: 1" }, "user_agent"},
		{"empty marker", func(c *Config) { c.ReadyMarker = "" }, "ready_marker"},
		{"zero http timeout", func(c *Config) { c.HTTPTimeout = 0 }, "http_timeout"},
		{"zero attempts", func(c *Config) { c.StopAttempts = 0 }, "stop_attempts"},
		{"zero interval", func(c *Config) { c.StopInterval = 0 }, "stop_interval"},
		{"negative reap", func(c *Config) { c.ReapTimeout = -time.Second }, "reap_timeout"},
		{"bad server port", func(c *Config) { c.ServerPort = 70000 }, "server_port"},
		{"write without path", func(c *Config) { c.SettingsPath = ""; c.WriteSettings = true }, "settings_path"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"actuator bad url", func(c *Config) { c.ActuatorMetrics = "ftp://x/metrics" }, "actuator_metrics"},
		{"actuator short window", func(c *Config) {
			c.ActuatorMetrics = "http://localhost:8080/actuator/prometheus"
			c.ActuatorWindow = 5 * time.Second
		}, "actuator_window"},
		{"actuator window vs interval", func(c *Config) {
			c.ActuatorMetrics = "http://localhost:8080/actuator/prometheus"
			c.ActuatorInterval = 20 * time.Second
			c.ActuatorWindow = 30 * time.Second
		}, "actuator_window"},
		{"actuator ok", func(c *Config) { c.ActuatorMetrics = "http://localhost:8080/actuator/prometheus" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := Validate(cfg)

			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error on %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field+":") {
				t.Errorf("Validate() = %v, want field %s", err, tt.field)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopAttempts = 0
	cfg.LogFormat = "xml"
	cfg.HTTPTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}

	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Error("expected a ValidationError in the chain")
	}
	for _, field := range []string{"stop_attempts", "log_format", "http_timeout"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s: %v", field, err)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "test_field", Message: "test message"}
	if got := err.Error(); got != "test_field: test message" {
		t.Errorf("Error() = %q", got)
	}
}
