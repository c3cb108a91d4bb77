package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(cfg *Config) { cfg.ACME.Email = "ops@example.com" },
			wantErr: "",
		},
		{
			name: "acme disabled needs no email",
			mutate: func(cfg *Config) {
				cfg.ACME.Enabled = false
			},
			wantErr: "",
		},
		{
			name:    "missing acme email",
			mutate:  func(cfg *Config) {},
			wantErr: "acme.email is required",
		},
		{
			name: "bad listen address",
			mutate: func(cfg *Config) {
				cfg.ACME.Email = "ops@example.com"
				cfg.Proxy.HTTPAddress = "no-port"
			},
			wantErr: "proxy.http_address",
		},
		{
			name: "bad registry source",
			mutate: func(cfg *Config) {
				cfg.ACME.Email = "ops@example.com"
				cfg.Registry.Source = "consul"
			},
			wantErr: "registry.source",
		},
		{
			name: "bad sweep schedule",
			mutate: func(cfg *Config) {
				cfg.ACME.Email = "ops@example.com"
				cfg.ACME.SweepSchedule = "not-cron"
			},
			wantErr: "sweep_schedule",
		},
		{
			name: "empty predeclared domain list",
			mutate: func(cfg *Config) {
				cfg.ACME.Email = "ops@example.com"
				cfg.Certificates = map[string][]string{"domain.de": {}}
			},
			wantErr: "domain list must not be empty",
		},
		{
			name: "bad log level",
			mutate: func(cfg *Config) {
				cfg.ACME.Email = "ops@example.com"
				cfg.Telemetry.Logging.Level = "verbose"
			},
			wantErr: "telemetry.logging.level",
		},
		{
			name: "min backoff above max",
			mutate: func(cfg *Config) {
				cfg.ACME.Email = "ops@example.com"
				cfg.Registry.ReconnectMinBackoff = DefaultReconnectMaxBackoff * 2
			},
			wantErr: "reconnect_min_backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
