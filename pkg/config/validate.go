package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks a configuration for errors.
// It returns the first error encountered, or nil if the configuration is
// valid. Validation failures at startup are fatal to the process.
func Validate(cfg *Config) error {
	if err := validateAddress("proxy.http_address", cfg.Proxy.HTTPAddress); err != nil {
		return err
	}
	if err := validateAddress("proxy.https_address", cfg.Proxy.HTTPSAddress); err != nil {
		return err
	}
	if err := validateAddress("proxy.admin_address", cfg.Proxy.AdminAddress); err != nil {
		return err
	}

	if cfg.Proxy.ReadTimeout < 0 || cfg.Proxy.WriteTimeout < 0 || cfg.Proxy.IdleTimeout < 0 {
		return fmt.Errorf("proxy timeouts must not be negative")
	}

	if cfg.Registry.Source != "dir" {
		return fmt.Errorf("registry.source: unsupported source %q (supported: dir)", cfg.Registry.Source)
	}
	if cfg.Registry.Path == "" {
		return fmt.Errorf("registry.path must not be empty")
	}
	if cfg.Registry.DebounceInterval <= 0 {
		return fmt.Errorf("registry.debounce_interval must be positive")
	}
	if cfg.Registry.ReconnectMinBackoff > cfg.Registry.ReconnectMaxBackoff {
		return fmt.Errorf("registry.reconnect_min_backoff must not exceed reconnect_max_backoff")
	}

	if cfg.ACME.Enabled {
		if cfg.ACME.Email == "" {
			return fmt.Errorf("acme.email is required when acme.enabled is true")
		}
		if !strings.Contains(cfg.ACME.Email, "@") {
			return fmt.Errorf("acme.email %q is not a valid address", cfg.ACME.Email)
		}
		u, err := url.Parse(cfg.ACME.DirectoryURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("acme.directory_url %q is not a valid URL", cfg.ACME.DirectoryURL)
		}
		if _, err := cron.ParseStandard(cfg.ACME.SweepSchedule); err != nil {
			return fmt.Errorf("acme.sweep_schedule %q is not a valid cron expression: %w",
				cfg.ACME.SweepSchedule, err)
		}
		if cfg.ACME.RenewBefore <= 0 {
			return fmt.Errorf("acme.renew_before must be positive")
		}
		if cfg.ACME.OrdersPerHour <= 0 {
			return fmt.Errorf("acme.orders_per_hour must be positive")
		}
	}

	for name, domains := range cfg.Certificates {
		if name == "" {
			return fmt.Errorf("certificates: certificate name must not be empty")
		}
		if len(domains) == 0 {
			return fmt.Errorf("certificates.%s: domain list must not be empty", name)
		}
		for _, d := range domains {
			if strings.TrimSpace(d) == "" {
				return fmt.Errorf("certificates.%s: empty domain entry", name)
			}
		}
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level %q is invalid (debug, info, warn, error)",
			cfg.Telemetry.Logging.Level)
	}

	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format %q is invalid (json, text)",
			cfg.Telemetry.Logging.Format)
	}

	return nil
}

// validateAddress checks that an address is a valid "host:port" string.
func validateAddress(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q is not a valid listen address: %w", field, addr, err)
	}
	return nil
}
