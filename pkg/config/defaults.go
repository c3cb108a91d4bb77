package config

import "time"

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultHTTPAddress         = ":80"
	DefaultHTTPSAddress        = ":443"
	DefaultAdminAddress        = "127.0.0.1:9090"
	DefaultGeneratedConfigPath = "data/routes.conf"
	DefaultReadTimeout         = 30 * time.Second
	DefaultWriteTimeout        = 30 * time.Second
	DefaultIdleTimeout         = 120 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultMaxHeaderBytes      = 1048576 // 1MB

	// Registry defaults
	DefaultRegistrySource      = "dir"
	DefaultRegistryPath        = "services"
	DefaultDebounceInterval    = 1 * time.Second
	DefaultReconnectMinBackoff = 1 * time.Second
	DefaultReconnectMaxBackoff = 2 * time.Minute

	// ACME defaults
	DefaultACMEStorePath       = "data/certs"
	DefaultACMEIndexPath       = "data/certs/index.db"
	DefaultACMERenewBefore     = 720 * time.Hour // 30 days
	DefaultACMESweepSchedule   = "0 3 * * *"
	DefaultACMEOrdersPerHour   = 30
	DefaultACMERetryMaxElapsed = 1 * time.Hour

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultPrometheusPath = "/metrics"
)

// ACME v2 directory endpoints for Let's Encrypt.
const (
	// LetsEncryptProduction is the production directory URL.
	LetsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"

	// LetsEncryptStaging is the staging directory URL. Certificates from
	// staging are not publicly trusted but are exempt from production
	// rate limits.
	LetsEncryptStaging = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Proxy defaults
	if cfg.Proxy.HTTPAddress == "" {
		cfg.Proxy.HTTPAddress = DefaultHTTPAddress
	}
	if cfg.Proxy.HTTPSAddress == "" {
		cfg.Proxy.HTTPSAddress = DefaultHTTPSAddress
	}
	if cfg.Proxy.AdminAddress == "" {
		cfg.Proxy.AdminAddress = DefaultAdminAddress
	}
	if cfg.Proxy.GeneratedConfigPath == "" {
		cfg.Proxy.GeneratedConfigPath = DefaultGeneratedConfigPath
	}
	if cfg.Proxy.ReadTimeout == 0 {
		cfg.Proxy.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Proxy.WriteTimeout == 0 {
		cfg.Proxy.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Proxy.MaxHeaderBytes == 0 {
		cfg.Proxy.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Registry defaults
	if cfg.Registry.Source == "" {
		cfg.Registry.Source = DefaultRegistrySource
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = DefaultRegistryPath
	}
	if cfg.Registry.DebounceInterval == 0 {
		cfg.Registry.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.Registry.ReconnectMinBackoff == 0 {
		cfg.Registry.ReconnectMinBackoff = DefaultReconnectMinBackoff
	}
	if cfg.Registry.ReconnectMaxBackoff == 0 {
		cfg.Registry.ReconnectMaxBackoff = DefaultReconnectMaxBackoff
	}

	// ACME defaults
	if cfg.ACME.DirectoryURL == "" {
		if cfg.ACME.Staging {
			cfg.ACME.DirectoryURL = LetsEncryptStaging
		} else {
			cfg.ACME.DirectoryURL = LetsEncryptProduction
		}
	}
	if cfg.ACME.StorePath == "" {
		cfg.ACME.StorePath = DefaultACMEStorePath
	}
	if cfg.ACME.IndexPath == "" {
		cfg.ACME.IndexPath = DefaultACMEIndexPath
	}
	if cfg.ACME.RenewBefore == 0 {
		cfg.ACME.RenewBefore = DefaultACMERenewBefore
	}
	if cfg.ACME.SweepSchedule == "" {
		cfg.ACME.SweepSchedule = DefaultACMESweepSchedule
	}
	if cfg.ACME.OrdersPerHour == 0 {
		cfg.ACME.OrdersPerHour = DefaultACMEOrdersPerHour
	}
	if cfg.ACME.RetryMaxElapsed == 0 {
		cfg.ACME.RetryMaxElapsed = DefaultACMERetryMaxElapsed
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
}

// DefaultConfig returns a fully-defaulted configuration with ACME and
// metrics enabled. Useful for tests and for `janus validate` output.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ACME.Enabled = true
	cfg.Proxy.RedirectHTTP = true
	cfg.Telemetry.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}
