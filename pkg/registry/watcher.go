package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// WatcherConfig contains configuration for the registry watcher.
type WatcherConfig struct {
	// DebounceInterval is the quiet period before a burst of events is
	// collapsed into one snapshot.
	DebounceInterval time.Duration

	// ReconnectMinBackoff is the initial reconnect delay after the event
	// source disconnects.
	ReconnectMinBackoff time.Duration

	// ReconnectMaxBackoff caps the reconnect delay.
	ReconnectMaxBackoff time.Duration
}

// Watcher turns a Source's event stream into debounced, deduplicated
// service-set snapshots.
//
// On source disconnect the watcher reconnects with capped exponential
// backoff. The last-known-good snapshot stays available throughout; the
// current route table is never discarded because the watcher is
// reconnecting.
type Watcher struct {
	source Source
	config WatcherConfig
	logger *slog.Logger

	debounce *Debouncer
	out      chan Snapshot

	mu       sync.RWMutex
	lastGood *Snapshot
	running  bool
}

// NewWatcher creates a watcher over the given source.
func NewWatcher(source Source, cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = time.Second
	}
	if cfg.ReconnectMinBackoff <= 0 {
		cfg.ReconnectMinBackoff = time.Second
	}
	if cfg.ReconnectMaxBackoff <= 0 {
		cfg.ReconnectMaxBackoff = 2 * time.Minute
	}

	return &Watcher{
		source:   source,
		config:   cfg,
		logger:   logger.With("component", "registry.watcher"),
		debounce: NewDebouncer(cfg.DebounceInterval),
		out:      make(chan Snapshot, 1),
	}
}

// Snapshots returns the channel of published snapshots. The channel is
// buffered with latest-wins semantics: an unconsumed stale snapshot is
// replaced, never queued behind, so consumers always pick up the newest
// service set in observation order.
func (w *Watcher) Snapshots() <-chan Snapshot {
	return w.out
}

// LastGood returns the most recent successfully built snapshot.
func (w *Watcher) LastGood() (Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lastGood == nil {
		return Snapshot{}, false
	}
	return *w.lastGood, true
}

// Run subscribes to the source and publishes snapshots until the context is
// cancelled. It blocks; run it in its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.running = true
	w.mu.Unlock()

	defer w.debounce.Stop()

	// Initial snapshot before any events arrive.
	w.publish(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.config.ReconnectMinBackoff
	bo.MaxInterval = w.config.ReconnectMaxBackoff
	bo.MaxElapsedTime = 0 // retry until cancelled

	for {
		if ctx.Err() != nil {
			return nil
		}

		events, errCh, err := w.source.Watch(ctx)
		if err != nil {
			w.waitBackoff(ctx, bo, err)
			continue
		}

		w.logger.Info("watching event source", "source", w.source.Name())
		bo.Reset()

		// A reconnect may have missed events; resync immediately.
		w.publish(ctx)

		disconnectErr := w.consume(ctx, events, errCh)
		if ctx.Err() != nil {
			return nil
		}
		if disconnectErr != nil {
			w.waitBackoff(ctx, bo, disconnectErr)
		}
	}
}

// consume drains one Watch session. It returns the terminal error reported
// by the source, or nil on clean shutdown.
func (w *Watcher) consume(ctx context.Context, events <-chan Event, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				// Stream ended; the error channel carries why.
				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
					return nil
				}
			}

			w.logger.Debug("registry event",
				"type", string(ev.Type),
				"endpoint", ev.EndpointID,
			)
			w.debounce.Trigger(func() { w.publish(ctx) })
		}
	}
}

// waitBackoff logs a disconnect and sleeps for the next backoff interval.
func (w *Watcher) waitBackoff(ctx context.Context, bo backoff.BackOff, cause error) {
	delay := bo.NextBackOff()
	w.logger.Warn("event source unavailable, retrying",
		"source", w.source.Name(),
		"retry_in", delay.String(),
		"error", cause,
	)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// publish lists the source and, when the service set changed, records it as
// last-known-good and offers it downstream.
func (w *Watcher) publish(ctx context.Context) {
	endpoints, err := w.source.List(ctx)
	if err != nil {
		// Keep serving the previous snapshot; the route table is not
		// touched on a failed list.
		w.logger.Error("failed to list service endpoints",
			"source", w.source.Name(),
			"error", err,
		)
		return
	}

	w.mu.Lock()
	if w.lastGood != nil && equalEndpoints(w.lastGood.Endpoints, endpoints) {
		w.mu.Unlock()
		w.logger.Debug("service set unchanged, suppressing snapshot")
		return
	}

	snap := Snapshot{
		ID:         uuid.NewString(),
		Endpoints:  endpoints,
		ObservedAt: time.Now().UTC(),
	}
	w.lastGood = &snap
	w.mu.Unlock()

	// Latest-wins: replace an unconsumed stale snapshot.
	for {
		select {
		case w.out <- snap:
			w.logger.Info("service snapshot published",
				"snapshot_id", snap.ID,
				"endpoints", len(snap.Endpoints),
			)
			return
		default:
			select {
			case <-w.out:
			default:
			}
		}
	}
}

// equalEndpoints reports whether two sorted service sets are identical.
func equalEndpoints(a, b []ServiceEndpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID ||
			a[i].Upstream != b[i].Upstream ||
			a[i].WantsAutoCert != b[i].WantsAutoCert ||
			a[i].CertName != b[i].CertName {
			return false
		}
		if len(a[i].HostAliases) != len(b[i].HostAliases) {
			return false
		}
		for j := range a[i].HostAliases {
			if a[i].HostAliases[j] != b[i].HostAliases[j] {
				return false
			}
		}
	}
	return true
}
