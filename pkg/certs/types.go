package certs

import (
	"time"
)

// State is the lifecycle state of one certificate name.
type State string

const (
	// StateNone means no record exists and no order has been started.
	StateNone State = "NONE"

	// StateRequested means the name needs a certificate and an order is
	// being prepared or retried.
	StateRequested State = "REQUESTED"

	// StateChallengePending means an ACME order is open and its
	// challenge token is published for the proxy to serve.
	StateChallengePending State = "CHALLENGE_PENDING"

	// StateValid means valid material is persisted and serving.
	StateValid State = "VALID"

	// StateRenewing means valid material is serving while a replacement
	// order runs.
	StateRenewing State = "RENEWING"

	// StateExpired means the material expired before a renewal
	// succeeded.
	StateExpired State = "EXPIRED"
)

// Record is the persisted form of one certificate: material plus metadata.
// Records are mutated only by the certificate manager.
type Record struct {
	// Name is the certificate name; one store directory per name.
	Name string

	// Domains is the ordered, non-empty domain list the certificate
	// covers. The first domain is the subject; the rest are SANs.
	Domains []string

	// KeyPEM is the PEM-encoded private key.
	KeyPEM []byte

	// ChainPEM is the PEM-encoded certificate chain, leaf first.
	ChainPEM []byte

	// NotAfter is the leaf certificate expiry.
	NotAfter time.Time

	// LastAttempt is when issuance or renewal was last attempted.
	LastAttempt time.Time
}

// Valid reports whether the record holds unexpired material for a non-empty
// domain set.
func (r *Record) Valid(now time.Time) bool {
	return r != nil && len(r.Domains) > 0 && len(r.ChainPEM) > 0 && r.NotAfter.After(now)
}

// Covers reports whether the record's domain set contains every requested
// domain. Order does not matter for coverage.
func (r *Record) Covers(domains []string) bool {
	if r == nil {
		return false
	}
	have := make(map[string]struct{}, len(r.Domains))
	for _, d := range r.Domains {
		have[d] = struct{}{}
	}
	for _, d := range domains {
		if _, ok := have[d]; !ok {
			return false
		}
	}
	return true
}

// Material is freshly issued certificate material returned by an Orderer.
type Material struct {
	// Domains is the ordered domain list of the issued certificate.
	Domains []string

	// KeyPEM is the PEM-encoded private key.
	KeyPEM []byte

	// ChainPEM is the PEM-encoded certificate chain, leaf first.
	ChainPEM []byte

	// NotAfter is the leaf certificate expiry.
	NotAfter time.Time
}
