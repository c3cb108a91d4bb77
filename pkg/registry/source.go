package registry

import "context"

// EventType classifies a change observed on the event source.
type EventType string

const (
	// EventAdded signals a new service.
	EventAdded EventType = "added"

	// EventUpdated signals changed metadata on a known service.
	EventUpdated EventType = "updated"

	// EventRemoved signals a stopped service.
	EventRemoved EventType = "removed"

	// EventResync signals that the whole service set should be re-read.
	EventResync EventType = "resync"
)

// Event is one observed change on the event source. Events carry the
// affected endpoint ID where known; consumers re-list the source rather
// than patching state from event payloads.
type Event struct {
	Type       EventType
	EndpointID string
}

// Source delivers service descriptors and change events.
//
// List returns the current service set. Watch delivers change events until
// the context is cancelled or the source disconnects; a disconnect is
// reported by closing the event channel after sending an error through the
// returned error channel. Implementations must support repeated Watch calls
// so the watcher can reconnect.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// List returns the current set of valid service endpoints, sorted by
	// ID. Invalid descriptors are skipped and reported as warnings, not
	// errors: one broken descriptor must not take down the others.
	List(ctx context.Context) ([]ServiceEndpoint, error)

	// Watch streams change events. The event channel is closed when the
	// stream ends; the error channel then carries the terminal error
	// (nil on clean shutdown).
	Watch(ctx context.Context) (<-chan Event, <-chan error, error)

	// Close releases source resources.
	Close() error
}
