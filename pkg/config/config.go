package config

import "time"

// Config is the root configuration structure for Janus.
// It contains all configuration sections for the proxy engine, the service
// registry, ACME certificate management, and telemetry.
type Config struct {
	// Proxy contains HTTP/TLS proxy engine configuration including listen
	// addresses, timeouts, and the generated-artifact location.
	Proxy ProxyConfig `yaml:"proxy"`

	// Registry contains configuration for the backend service registry
	// watcher, including the descriptor source and debounce settings.
	Registry RegistryConfig `yaml:"registry"`

	// ACME contains configuration for automatic certificate management:
	// directory URL, account email, store paths, and renewal policy.
	ACME ACMEConfig `yaml:"acme"`

	// Certificates contains pre-declared certificates that are kept fresh
	// independently of service discovery. Keys are certificate names,
	// values are the domain lists they must cover.
	Certificates map[string][]string `yaml:"certificates"`

	// Telemetry contains observability configuration (logging, metrics).
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig contains configuration for the HTTP/TLS proxy engine.
type ProxyConfig struct {
	// HTTPAddress is the plain-HTTP listen address. This listener serves
	// ACME HTTP-01 challenges, HTTP-only routes, and (optionally) the
	// redirect to HTTPS.
	// Default: ":80"
	HTTPAddress string `yaml:"http_address"`

	// HTTPSAddress is the TLS listen address.
	// Default: ":443"
	HTTPSAddress string `yaml:"https_address"`

	// AdminAddress is the listen address for the admin surface
	// (/metrics, /healthz, forced certificate renewal).
	// Default: "127.0.0.1:9090"
	AdminAddress string `yaml:"admin_address"`

	// RedirectHTTP redirects plain-HTTP requests for hosts that have a
	// valid certificate to HTTPS. Challenge requests are never redirected.
	// Default: true
	RedirectHTTP bool `yaml:"redirect_http"`

	// GeneratedConfigPath is where the rendered routing artifact is
	// written on every successful reload, for inspection and diffing.
	// Default: "data/routes.conf"
	GeneratedConfigPath string `yaml:"generated_config_path"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response
	// writes. Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// RegistryConfig contains configuration for the service registry watcher.
type RegistryConfig struct {
	// Source selects the descriptor source implementation.
	// Supported: "dir" (a directory of YAML service descriptors watched
	// for changes). Default: "dir"
	Source string `yaml:"source"`

	// Path is the descriptor directory for the "dir" source.
	// Default: "services"
	Path string `yaml:"path"`

	// DebounceInterval is how long the watcher waits after the last event
	// before publishing a new snapshot. Bursts of events (many services
	// restarting together) collapse into a single downstream notification.
	// Default: 1s
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// ReconnectMinBackoff is the initial backoff after the event source
	// disconnects. Default: 1s
	ReconnectMinBackoff time.Duration `yaml:"reconnect_min_backoff"`

	// ReconnectMaxBackoff caps the reconnect backoff.
	// Default: 2m
	ReconnectMaxBackoff time.Duration `yaml:"reconnect_max_backoff"`
}

// ACMEConfig contains configuration for automatic certificate management.
type ACMEConfig struct {
	// Enabled controls whether certificates are obtained automatically.
	// When false, only pre-existing material in the store is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Email is the ACME account contact address. Required when Enabled.
	Email string `yaml:"email"`

	// DirectoryURL is the ACME v2 directory endpoint. When empty, the
	// production or staging Let's Encrypt directory is chosen based on
	// Staging.
	DirectoryURL string `yaml:"directory_url"`

	// Staging selects the Let's Encrypt staging environment. Useful to
	// avoid production rate limits while testing.
	// Default: false
	Staging bool `yaml:"staging"`

	// StorePath is the root directory of the on-disk certificate store.
	// One subdirectory per certificate name.
	// Default: "data/certs"
	StorePath string `yaml:"store_path"`

	// IndexPath is the SQLite certificate metadata index.
	// Default: "data/certs/index.db"
	IndexPath string `yaml:"index_path"`

	// RenewBefore is the time-to-expiry threshold that triggers proactive
	// renewal. Default: 720h (30 days)
	RenewBefore time.Duration `yaml:"renew_before"`

	// SweepSchedule is the cron expression for the periodic renewal
	// sweep. Default: "0 3 * * *" (daily at 3 AM)
	SweepSchedule string `yaml:"sweep_schedule"`

	// OrdersPerHour limits how many new ACME orders may be started per
	// hour across all certificate names. Default: 30
	OrdersPerHour int `yaml:"orders_per_hour"`

	// RetryMaxElapsed caps how long a failed order is retried with
	// backoff before giving up until the next sweep. Default: 1h
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and exposed.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the metrics endpoint path on the admin listener.
	// Default: "/metrics"
	Path string `yaml:"path"`
}
