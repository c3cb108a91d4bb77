package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	mockregistry "mercator-hq/janus/internal/registry"
	"mercator-hq/janus/pkg/registry"
)

func testEndpoint(id, host string) registry.ServiceEndpoint {
	return registry.ServiceEndpoint{
		ID:          id,
		Upstream:    "http://10.0.0.1:8000",
		HostAliases: []string{host},
	}
}

func watcherConfig() registry.WatcherConfig {
	return registry.WatcherConfig{
		DebounceInterval:    20 * time.Millisecond,
		ReconnectMinBackoff: 10 * time.Millisecond,
		ReconnectMaxBackoff: 50 * time.Millisecond,
	}
}

func waitSnapshot(t *testing.T, w *registry.Watcher) registry.Snapshot {
	t.Helper()
	select {
	case snap := <-w.Snapshots():
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return registry.Snapshot{}
	}
}

func TestWatcherInitialSnapshot(t *testing.T) {
	src := mockregistry.NewMockSource("mock", testEndpoint("whoami", "domaina.de"))
	w := registry.NewWatcher(src, watcherConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	snap := waitSnapshot(t, w)
	if len(snap.Endpoints) != 1 || snap.Endpoints[0].ID != "whoami" {
		t.Fatalf("initial snapshot = %+v, want single whoami endpoint", snap.Endpoints)
	}

	if got, ok := w.LastGood(); !ok || got.ID != snap.ID {
		t.Errorf("LastGood() = %+v, %v; want published snapshot", got, ok)
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	src := mockregistry.NewMockSource("mock", testEndpoint("a", "a.de"))
	w := registry.NewWatcher(src, watcherConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitSnapshot(t, w) // initial

	// A burst of events with a changed service set must collapse into a
	// single downstream snapshot.
	src.SetEndpoints(testEndpoint("a", "a.de"), testEndpoint("b", "b.de"))
	for i := 0; i < 10; i++ {
		src.Emit(registry.Event{Type: registry.EventUpdated, EndpointID: "b"})
	}

	snap := waitSnapshot(t, w)
	if len(snap.Endpoints) != 2 {
		t.Fatalf("snapshot has %d endpoints, want 2", len(snap.Endpoints))
	}

	// No further snapshot arrives for the same burst.
	select {
	case extra := <-w.Snapshots():
		t.Fatalf("unexpected extra snapshot %q after debounced burst", extra.ID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherSuppressesUnchangedSnapshots(t *testing.T) {
	src := mockregistry.NewMockSource("mock", testEndpoint("a", "a.de"))
	w := registry.NewWatcher(src, watcherConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitSnapshot(t, w)

	// Events that do not change the listed service set publish nothing.
	src.Emit(registry.Event{Type: registry.EventUpdated, EndpointID: "a"})

	select {
	case snap := <-w.Snapshots():
		t.Fatalf("unexpected snapshot %q for unchanged service set", snap.ID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherKeepsLastGoodAcrossDisconnect(t *testing.T) {
	src := mockregistry.NewMockSource("mock", testEndpoint("a", "a.de"))
	w := registry.NewWatcher(src, watcherConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	first := waitSnapshot(t, w)

	src.Disconnect(&registry.DisconnectError{Source: "mock", Err: errors.New("stream reset")})

	// While reconnecting, the last-known-good snapshot stays available.
	if got, ok := w.LastGood(); !ok || got.ID != first.ID {
		t.Fatalf("LastGood() lost across disconnect: %+v, %v", got, ok)
	}

	// After reconnect, a changed service set publishes again.
	src.SetEndpoints(testEndpoint("a", "a.de"), testEndpoint("c", "c.de"))

	snap := waitSnapshot(t, w)
	if len(snap.Endpoints) != 2 {
		t.Fatalf("post-reconnect snapshot has %d endpoints, want 2", len(snap.Endpoints))
	}
}

func TestWatcherListFailureKeepsLastGood(t *testing.T) {
	src := mockregistry.NewMockSource("mock", testEndpoint("a", "a.de"))
	w := registry.NewWatcher(src, watcherConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	first := waitSnapshot(t, w)

	src.SetListError(errors.New("api unavailable"))
	src.Emit(registry.Event{Type: registry.EventResync})

	select {
	case snap := <-w.Snapshots():
		t.Fatalf("unexpected snapshot %q while source listing fails", snap.ID)
	case <-time.After(150 * time.Millisecond):
	}

	if got, ok := w.LastGood(); !ok || got.ID != first.ID {
		t.Errorf("LastGood() = %+v, %v; want snapshot before failure", got, ok)
	}
}

func TestDebouncer(t *testing.T) {
	d := registry.NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	fired := make(chan struct{}, 8)
	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired <- struct{}{} })
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("debounced callback never fired")
	}

	select {
	case <-fired:
		t.Fatal("callback fired more than once for one burst")
	case <-time.After(100 * time.Millisecond):
	}
}
