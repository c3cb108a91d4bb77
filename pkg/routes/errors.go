package routes

import (
	"errors"
	"fmt"
)

// Common routing errors that can be checked with errors.Is().
var (
	// ErrRouteConflict is recorded when endpoints compete for the same
	// host alias or certificate name. The losing endpoint is isolated;
	// other endpoints proceed.
	ErrRouteConflict = errors.New("route conflict")

	// ErrNoEndpoints is returned when a table is built from an empty
	// service set. Not fatal: an empty table is still a valid table.
	ErrNoEndpoints = errors.New("no service endpoints")
)

// ConflictKind classifies a recorded conflict.
type ConflictKind string

const (
	// ConflictHost marks a host alias claimed by more than one endpoint.
	ConflictHost ConflictKind = "host"

	// ConflictCertName marks a certificate name requested with
	// different domain sets by different endpoints.
	ConflictCertName ConflictKind = "cert-name"
)

// ConflictError records one isolated validation failure during a table
// build. Conflicts are warnings attached to the table, not build failures.
type ConflictError struct {
	// Kind classifies the conflict.
	Kind ConflictKind

	// Subject is the contested host alias or certificate name.
	Subject string

	// WinnerID is the endpoint whose claim stands.
	WinnerID string

	// LoserID is the endpoint whose routes or certificate request were
	// dropped.
	LoserID string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict on %q: endpoint %s dropped (kept %s)",
		e.Kind, e.Subject, e.LoserID, e.WinnerID)
}

// Is implements error matching for errors.Is().
func (e *ConflictError) Is(target error) bool {
	return target == ErrRouteConflict
}
