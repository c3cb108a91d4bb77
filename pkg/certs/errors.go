package certs

import (
	"errors"
	"fmt"
	"strings"
)

// Common certificate errors that can be checked with errors.Is().
var (
	// ErrRecordNotFound is returned when no record exists for a name.
	ErrRecordNotFound = errors.New("certificate record not found")

	// ErrChallengeFailed is returned when ACME challenge fulfillment
	// fails. The order is retried with backoff; the name stays in
	// REQUESTED.
	ErrChallengeFailed = errors.New("acme challenge failed")

	// ErrRateLimited is returned when the ACME server reports a rate
	// limit. Surfaced with a long backoff; never retried in a tight
	// loop.
	ErrRateLimited = errors.New("acme rate limited")

	// ErrOrderInFlight is returned when an order for the same name is
	// already running. Issuance per certificate name is strictly
	// serialized.
	ErrOrderInFlight = errors.New("order already in flight")

	// ErrStorePersist is returned when certificate material cannot be
	// persisted. Fatal for that name's transition only; the old
	// certificate continues serving.
	ErrStorePersist = errors.New("certificate store persist failed")
)

// ChallengeError is returned when challenge fulfillment fails for a
// certificate order.
type ChallengeError struct {
	// Name is the certificate name being ordered.
	Name string

	// Domains is the domain list of the order.
	Domains []string

	// Err is the underlying ACME error.
	Err error
}

// Error implements the error interface.
func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge failed for certificate %q (domains: %s): %v",
		e.Name, strings.Join(e.Domains, ", "), e.Err)
}

// Is implements error matching for errors.Is().
func (e *ChallengeError) Is(target error) bool {
	return target == ErrChallengeFailed
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ChallengeError) Unwrap() error {
	return e.Err
}

// PersistError is returned when writing certificate material fails.
type PersistError struct {
	// Name is the certificate name.
	Name string

	// Err is the underlying storage error.
	Err error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist certificate %q: %v", e.Name, e.Err)
}

// Is implements error matching for errors.Is().
func (e *PersistError) Is(target error) bool {
	return target == ErrStorePersist
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether an ACME error is a server-side rate limit.
// Matched on the ACME problem type so it works across error wrappers.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	return strings.Contains(err.Error(), "urn:ietf:params:acme:error:rateLimited")
}
