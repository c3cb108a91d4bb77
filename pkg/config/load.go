package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, applies JANUS_* environment variable overrides,
// validates the configuration, and returns any errors.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ParseConfig parses YAML configuration bytes and applies defaults.
// Boolean fields whose documented default is true (acme.enabled,
// proxy.redirect_http, telemetry.metrics.enabled) are seeded before
// unmarshalling so that absent keys keep the default rather than false.
func ParseConfig(data []byte) (*Config, error) {
	cfg := Config{}
	cfg.ACME.Enabled = true
	cfg.Proxy.RedirectHTTP = true
	cfg.Telemetry.Metrics.Enabled = true

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// applyEnvOverrides applies JANUS_* environment variable overrides.
// Environment variables always take precedence over file-based configuration.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}

	setString("JANUS_PROXY_HTTP_ADDRESS", &cfg.Proxy.HTTPAddress)
	setString("JANUS_PROXY_HTTPS_ADDRESS", &cfg.Proxy.HTTPSAddress)
	setString("JANUS_PROXY_ADMIN_ADDRESS", &cfg.Proxy.AdminAddress)
	setBool("JANUS_PROXY_REDIRECT_HTTP", &cfg.Proxy.RedirectHTTP)

	setString("JANUS_REGISTRY_PATH", &cfg.Registry.Path)
	setDuration("JANUS_REGISTRY_DEBOUNCE_INTERVAL", &cfg.Registry.DebounceInterval)

	setBool("JANUS_ACME_ENABLED", &cfg.ACME.Enabled)
	setString("JANUS_ACME_EMAIL", &cfg.ACME.Email)
	setString("JANUS_ACME_DIRECTORY_URL", &cfg.ACME.DirectoryURL)
	setBool("JANUS_ACME_STAGING", &cfg.ACME.Staging)
	setString("JANUS_ACME_STORE_PATH", &cfg.ACME.StorePath)
	setDuration("JANUS_ACME_RENEW_BEFORE", &cfg.ACME.RenewBefore)

	setString("JANUS_LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("JANUS_LOG_FORMAT", &cfg.Telemetry.Logging.Format)

	// Switching to staging via environment should also switch the
	// directory URL unless one was set explicitly.
	if cfg.ACME.Staging && cfg.ACME.DirectoryURL == LetsEncryptProduction {
		cfg.ACME.DirectoryURL = LetsEncryptStaging
	}
}
