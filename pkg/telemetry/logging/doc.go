// Package logging configures structured logging for Janus.
//
// All components log through log/slog. Setup installs the process-wide
// default logger based on configuration; components derive their own logger
// with Component, which attaches a "component" attribute for filtering.
package logging
