package routes

import (
	"time"
)

// Entry is one host routing rule. Entries are derived, read-only snapshots;
// a rebuild produces a fresh set rather than patching existing entries.
type Entry struct {
	// Host is the virtual host name, lowercased.
	Host string

	// Upstream is the backend address requests are forwarded to.
	Upstream string

	// EndpointID identifies the backend service owning this entry.
	EndpointID string

	// CertName references the certificate record serving this host.
	// Empty means the host is served over plain HTTP only.
	CertName string
}

// TLS reports whether the entry references certificate material.
func (e Entry) TLS() bool {
	return e.CertName != ""
}

// CertRequest is one certificate demand derived from the service set:
// a certificate name and the ordered domain list it must cover.
type CertRequest struct {
	// Name is the certificate name.
	Name string

	// Domains is the ordered, non-empty domain list.
	Domains []string

	// EndpointID identifies the requesting backend.
	EndpointID string
}

// Table is an immutable host → Entry mapping plus the certificate demands
// and conflicts recorded while building it. Tables are swapped atomically;
// no field is mutated after Build returns.
type Table struct {
	entries   []Entry
	byHost    map[string]Entry
	requests  []CertRequest
	conflicts []*ConflictError
	builtAt   time.Time
}

// Entries returns the routing entries sorted by host.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Lookup returns the entry for a host, matching case-insensitively.
func (t *Table) Lookup(host string) (Entry, bool) {
	e, ok := t.byHost[normalizeHost(host)]
	return e, ok
}

// Len returns the number of routing entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// CertRequests returns the certificate demands sorted by name.
func (t *Table) CertRequests() []CertRequest {
	return t.requests
}

// Conflicts returns the validation conflicts recorded during the build.
func (t *Table) Conflicts() []*ConflictError {
	return t.conflicts
}

// BuiltAt returns when the table was built.
func (t *Table) BuiltAt() time.Time {
	return t.builtAt
}

// Hosts returns all routed host names, sorted.
func (t *Table) Hosts() []string {
	hosts := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		hosts = append(hosts, e.Host)
	}
	return hosts
}
