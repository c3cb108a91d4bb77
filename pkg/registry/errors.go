package registry

import (
	"errors"
	"fmt"
)

// Common registry errors that can be checked with errors.Is().
var (
	// ErrWatcherDisconnected is returned when the event source is lost.
	// The watcher recovers via reconnect with backoff; the last-known-good
	// snapshot keeps serving meanwhile.
	ErrWatcherDisconnected = errors.New("event source disconnected")

	// ErrWatcherClosed is returned when operating on a stopped watcher.
	ErrWatcherClosed = errors.New("watcher closed")

	// ErrInvalidDescriptor is returned when a service descriptor cannot
	// be parsed. The descriptor is skipped; other endpoints are
	// unaffected.
	ErrInvalidDescriptor = errors.New("invalid service descriptor")
)

// DisconnectError is returned when the event source connection is lost.
type DisconnectError struct {
	// Source describes the event source that disconnected.
	Source string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DisconnectError) Error() string {
	return fmt.Sprintf("event source %s disconnected: %v", e.Source, e.Err)
}

// Is implements error matching for errors.Is().
func (e *DisconnectError) Is(target error) bool {
	return target == ErrWatcherDisconnected
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *DisconnectError) Unwrap() error {
	return e.Err
}

// DescriptorError is returned when a single service descriptor is invalid.
type DescriptorError struct {
	// Path identifies the offending descriptor.
	Path string

	// Err is the underlying parse or validation error.
	Err error
}

// Error implements the error interface.
func (e *DescriptorError) Error() string {
	return fmt.Sprintf("invalid service descriptor %s: %v", e.Path, e.Err)
}

// Is implements error matching for errors.Is().
func (e *DescriptorError) Is(target error) bool {
	return target == ErrInvalidDescriptor
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *DescriptorError) Unwrap() error {
	return e.Err
}
