package reload

import (
	"errors"
	"fmt"
)

// Common reload errors that can be checked with errors.Is().
var (
	// ErrConfigInvalid is returned when a generated configuration fails
	// validation. The reload is aborted; the previous configuration
	// remains active.
	ErrConfigInvalid = errors.New("generated configuration invalid")

	// ErrControllerClosed is returned when requesting a reload on a
	// stopped controller.
	ErrControllerClosed = errors.New("reload controller closed")
)

// ValidationError is returned when a generated configuration is rejected.
type ValidationError struct {
	// Host is the routing entry that failed validation, when applicable.
	Host string

	// Reason describes the failure.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("configuration validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("configuration validation failed for host %q: %s", e.Host, e.Reason)
}

// Is implements error matching for errors.Is().
func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}
