package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.JavaPath) == "" {
		errs = append(errs, ValidationError{
			Field:   "java_path",
			Message: "must not be empty",
		})
	}

	if cfg.JavaMin < 0 {
		errs = append(errs, ValidationError{
			Field:   "java_min",
			Message: fmt.Sprintf("must be >= 0 (got %d)", cfg.JavaMin),
		})
	}

	if cfg.JarPath != "" && !strings.HasSuffix(strings.ToLower(cfg.JarPath), ".jar") {
		errs = append(errs, ValidationError{
			Field:   "jar_path",
			Message: fmt.Sprintf("must name a .jar file (got %q)", cfg.JarPath),
		})
	}

	// Management address must parse if given
	if cfg.ManagementAddr != "" {
		if _, _, err := cfg.ManagementHostPort(0); err != nil {
			errs = append(errs, ValidationError{
				Field:   "management_addr",
				Message: err.Error(),
			})
		}
	}

	if !strings.HasPrefix(cfg.ShutdownPath, "/") {
		errs = append(errs, ValidationError{
			Field:   "shutdown_path",
			Message: fmt.Sprintf("must start with / (got %q)", cfg.ShutdownPath),
		})
	}

	// Header values end at CRLF; reject anything that would split the request.
	if strings.ContainsAny(cfg.UserAgent, "\r\n") || strings.ContainsAny(cfg.ShutdownPath, " \r\n") {
		errs = append(errs, ValidationError{
			Field:   "user_agent",
			Message: "shutdown path and user agent must not contain spaces or line breaks",
		})
	}

	if cfg.ReadyMarker == "" {
		errs = append(errs, ValidationError{
			Field:   "ready_marker",
			Message: "must not be empty",
		})
	}

	if cfg.HTTPTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "http_timeout",
			Message: "must be positive",
		})
	}

	// Stop policy
	if cfg.StopAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "stop_attempts",
			Message: "must be at least 1",
		})
	}
	if cfg.StopInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_interval",
			Message: "must be positive",
		})
	}
	if cfg.ReapTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "reap_timeout",
			Message: "must not be negative",
		})
	}

	if cfg.ServerPort < 0 || cfg.ServerPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server_port",
			Message: fmt.Sprintf("must be between 1 and 65535 (got %d)", cfg.ServerPort),
		})
	}

	if cfg.SettingsPath == "" && (cfg.WriteSettings || cfg.WatchSettings) {
		errs = append(errs, ValidationError{
			Field:   "settings_path",
			Message: "-write-settings and -watch-settings need -settings",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Actuator metrics window validation (if scraping is enabled)
	if cfg.ActuatorMetricsEnabled() {
		if err := validateURL(cfg.ActuatorMetrics); err != nil {
			errs = append(errs, ValidationError{
				Field:   "actuator_metrics",
				Message: err.Error(),
			})
		}
		if cfg.ActuatorInterval <= 0 {
			errs = append(errs, ValidationError{
				Field:   "actuator_interval",
				Message: "must be positive",
			})
		}

		const minWindow = 10 * time.Second
		const maxWindow = 300 * time.Second
		if cfg.ActuatorWindow < minWindow {
			errs = append(errs, ValidationError{
				Field:   "actuator_window",
				Message: fmt.Sprintf("must be at least %v (got %v)", minWindow, cfg.ActuatorWindow),
			})
		}
		if cfg.ActuatorWindow > maxWindow {
			errs = append(errs, ValidationError{
				Field:   "actuator_window",
				Message: fmt.Sprintf("must be at most %v (got %v)", maxWindow, cfg.ActuatorWindow),
			})
		}
		// Window should be at least 2× the scrape interval for meaningful percentiles
		if cfg.ActuatorWindow < 2*cfg.ActuatorInterval {
			errs = append(errs, ValidationError{
				Field:   "actuator_window",
				Message: fmt.Sprintf("must be at least 2× scrape interval (%v), got %v", 2*cfg.ActuatorInterval, cfg.ActuatorWindow),
			})
		}
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURL checks if the URL is valid and uses http or https.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}
