package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/janus/pkg/routes"
)

var (
	reloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "janus_reloads_total",
			Help: "Total number of reload attempts by result",
		},
		[]string{"result"},
	)

	reloadTableEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "janus_route_table_entries",
			Help: "Number of entries in the active route table",
		},
	)
)

// Target is the live proxy the controller publishes validated tables to.
// Apply must swap the table atomically and must not drop in-flight
// connections for unaffected hosts.
type Target interface {
	Apply(table *routes.Table)
}

// Controller serializes route table reloads.
//
// Request queues a table; the Run loop renders, validates, persists the
// generated artifact, and publishes the table to the target. At most one
// request is pending at a time: a newer table replaces an unapplied older
// one, preserving the observation order of the triggering events.
type Controller struct {
	target       Target
	artifactPath string
	logger       *slog.Logger

	pending chan *routes.Table

	mu       sync.Mutex
	lastHash string
	closed   bool
}

// NewController creates a reload controller writing the generated artifact
// to artifactPath.
func NewController(target Target, artifactPath string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		target:       target,
		artifactPath: artifactPath,
		logger:       logger.With("component", "reload.controller"),
		pending:      make(chan *routes.Table, 1),
	}
}

// Request queues a table for reload. A pending unapplied table is replaced
// rather than queued behind. Returns ErrControllerClosed after Close.
func (c *Controller) Request(table *routes.Table) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.mu.Unlock()

	for {
		select {
		case c.pending <- table:
			return nil
		default:
			// Supersede the stale pending request.
			select {
			case <-c.pending:
			default:
			}
		}
	}
}

// Run processes reload requests until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return nil

		case table := <-c.pending:
			if err := c.Apply(table); err != nil {
				// Reported, never silently ignored; the previous
				// configuration stays active.
				c.logger.Error("reload failed",
					"entries", table.Len(),
					"error", err,
				)
			}
		}
	}
}

// Apply performs one reload synchronously: render, validate, persist the
// artifact, publish the table. Applying a table identical to the active one
// is a no-op.
func (c *Controller) Apply(table *routes.Table) error {
	if err := ValidateTable(table); err != nil {
		reloadsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	artifact, err := Render(table)
	if err != nil {
		reloadsTotal.WithLabelValues("render_error").Inc()
		return err
	}

	hash := Fingerprint(artifact)

	c.mu.Lock()
	if hash == c.lastHash {
		c.mu.Unlock()
		reloadsTotal.WithLabelValues("unchanged").Inc()
		c.logger.Debug("route table unchanged, skipping reload", "fingerprint", hash[:12])
		return nil
	}
	c.mu.Unlock()

	if err := c.writeArtifact(artifact); err != nil {
		reloadsTotal.WithLabelValues("persist_error").Inc()
		return err
	}

	// The swap itself: readers on the engine observe either the old or
	// the new table, never a partial one.
	c.target.Apply(table)

	c.mu.Lock()
	c.lastHash = hash
	c.mu.Unlock()

	reloadsTotal.WithLabelValues("applied").Inc()
	reloadTableEntries.Set(float64(table.Len()))

	c.logger.Info("route table applied",
		"entries", table.Len(),
		"conflicts", len(table.Conflicts()),
		"fingerprint", hash[:12],
	)

	for _, conflict := range table.Conflicts() {
		c.logger.Warn("route conflict", "conflict", conflict.Error())
	}

	return nil
}

// writeArtifact persists the rendered artifact atomically (temp file plus
// rename) so observers never read a torn config.
func (c *Controller) writeArtifact(artifact []byte) error {
	if c.artifactPath == "" {
		return nil
	}

	dir := filepath.Dir(c.artifactPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".routes-*.conf")
	if err != nil {
		return fmt.Errorf("failed to create artifact temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(artifact); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.artifactPath); err != nil {
		return fmt.Errorf("failed to publish artifact: %w", err)
	}
	return nil
}
