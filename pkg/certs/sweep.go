package certs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper renews certificates approaching expiry on a cron schedule,
// independently of the registry event stream. It also honors the
// force_renew flag set through the admin surface.
type Sweeper struct {
	manager  *Manager
	schedule string

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	logger  *slog.Logger
}

// NewSweeper creates a sweeper running manager renewals on the given cron
// schedule (standard five-field syntax).
func NewSweeper(manager *Manager, schedule string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		manager:  manager,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "certs.sweeper"),
	}
}

// Start begins scheduled sweeping. An empty schedule disables the sweeper.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping sweeper")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule certificate sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("certificate sweeper started",
		"schedule", s.schedule,
		"renew_before", s.manager.RenewBefore().String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Sweep runs one renewal cycle: every certificate expiring inside the
// renewal window, plus every certificate flagged for forced renewal, gets
// an order started. The force flag stays set until a renewal actually
// succeeds, so a failed order is retried on the next cycle. Returns the
// number of renewals started.
func (s *Sweeper) Sweep(ctx context.Context) int {
	deadline := time.Now().Add(s.manager.RenewBefore())
	entries, err := s.manager.index.Expiring(ctx, deadline)
	if err != nil {
		s.logger.Error("certificate sweep failed", "error", err)
		return 0
	}
	if len(entries) == 0 {
		s.logger.Debug("certificate sweep completed, nothing due")
		return 0
	}

	started := 0
	for _, entry := range entries {
		if err := s.manager.Renew(ctx, entry.Name, entry.ForceRenew); err != nil {
			s.logger.Warn("failed to start renewal",
				"cert", entry.Name, "error", err)
			continue
		}
		started++
	}

	s.logger.Info("certificate sweep completed",
		"due", len(entries),
		"started", started,
	)
	return started
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		done := s.cron.Stop()
		<-done.Done()
		s.running = false
		s.logger.Info("certificate sweeper stopped")
	}
}
