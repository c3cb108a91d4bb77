// Package registry provides mock implementations for testing the registry
// watcher without a real descriptor source.
package registry

import (
	"context"
	"sync"

	"mercator-hq/janus/pkg/registry"
)

// MockSource is a controllable in-memory Source for tests.
type MockSource struct {
	mu        sync.Mutex
	name      string
	endpoints []registry.ServiceEndpoint
	listErr   error
	watchErr  error

	events chan registry.Event
	errCh  chan error
}

// NewMockSource creates a mock source with the given initial service set.
func NewMockSource(name string, endpoints ...registry.ServiceEndpoint) *MockSource {
	return &MockSource{
		name:      name,
		endpoints: endpoints,
		events:    make(chan registry.Event, 16),
		errCh:     make(chan error, 1),
	}
}

// Name implements registry.Source.
func (m *MockSource) Name() string { return m.name }

// List implements registry.Source.
func (m *MockSource) List(ctx context.Context) ([]registry.ServiceEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]registry.ServiceEndpoint, len(m.endpoints))
	copy(out, m.endpoints)
	return out, nil
}

// Watch implements registry.Source.
func (m *MockSource) Watch(ctx context.Context) (<-chan registry.Event, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchErr != nil {
		return nil, nil, m.watchErr
	}
	return m.events, m.errCh, nil
}

// Close implements registry.Source.
func (m *MockSource) Close() error { return nil }

// SetEndpoints replaces the service set returned by List.
func (m *MockSource) SetEndpoints(endpoints ...registry.ServiceEndpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = endpoints
}

// SetListError makes List fail with the given error.
func (m *MockSource) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// Emit delivers an event to the current Watch session.
func (m *MockSource) Emit(ev registry.Event) {
	m.events <- ev
}

// Disconnect ends the current Watch session with the given error and arms a
// fresh session for the reconnect.
func (m *MockSource) Disconnect(err error) {
	m.mu.Lock()
	events, errCh := m.events, m.errCh
	m.events = make(chan registry.Event, 16)
	m.errCh = make(chan error, 1)
	m.mu.Unlock()

	errCh <- err
	close(events)
}
