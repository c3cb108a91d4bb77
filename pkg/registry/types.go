package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Metadata keys of the service descriptor convention.
const (
	// MetaVirtualHost is the comma-separated list of host names the
	// service wants routed to it.
	MetaVirtualHost = "VIRTUAL_HOST"

	// MetaAutoCert requests automatic certificate provisioning when set
	// to a true value.
	MetaAutoCert = "AUTO_CERT"

	// MetaCertName names the certificate record to use or create. When
	// empty, the first virtual host is used as the certificate name.
	MetaCertName = "CERT_NAME"
)

// ServiceEndpoint describes one running backend service and its routing
// metadata. Endpoints are created and destroyed as backends start and stop;
// the registry watcher owns the authoritative set.
type ServiceEndpoint struct {
	// ID uniquely identifies the backend (container name, instance ID).
	ID string `yaml:"id"`

	// Upstream is the address requests are forwarded to,
	// e.g. "http://10.2.0.5:8000".
	Upstream string `yaml:"upstream"`

	// HostAliases is the set of host names routed to this endpoint.
	HostAliases []string `yaml:"host_aliases"`

	// WantsAutoCert is true when the endpoint requested automatic
	// certificate provisioning.
	WantsAutoCert bool `yaml:"auto_cert"`

	// CertName names the certificate record covering the host aliases.
	// Empty means "derive from the first host alias".
	CertName string `yaml:"cert_name"`
}

// EndpointFromMetadata builds a ServiceEndpoint from the key-value metadata
// convention. Host aliases are split on commas, trimmed, lowercased, and
// deduplicated while preserving first-seen order.
func EndpointFromMetadata(id, upstream string, meta map[string]string) (ServiceEndpoint, error) {
	ep := ServiceEndpoint{
		ID:       id,
		Upstream: upstream,
		CertName: strings.TrimSpace(meta[MetaCertName]),
	}

	if v, ok := meta[MetaAutoCert]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return ServiceEndpoint{}, fmt.Errorf("endpoint %s: invalid %s value %q", id, MetaAutoCert, v)
		}
		ep.WantsAutoCert = b
	}

	seen := make(map[string]struct{})
	for _, h := range strings.Split(meta[MetaVirtualHost], ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		ep.HostAliases = append(ep.HostAliases, h)
	}

	return ep, ep.Validate()
}

// Validate checks the endpoint for structural problems.
func (e ServiceEndpoint) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("endpoint has no id")
	}
	if e.Upstream == "" {
		return fmt.Errorf("endpoint %s: no upstream address", e.ID)
	}
	if len(e.HostAliases) == 0 {
		return fmt.Errorf("endpoint %s: no host aliases", e.ID)
	}
	return nil
}

// ResolvedCertName returns the certificate name the endpoint maps to:
// the explicit CERT_NAME when present, otherwise the first host alias.
// Returns empty when the endpoint has no aliases.
func (e ServiceEndpoint) ResolvedCertName() string {
	if e.CertName != "" {
		return e.CertName
	}
	if len(e.HostAliases) > 0 {
		return e.HostAliases[0]
	}
	return ""
}

// Snapshot is an immutable view of the service set at one point in time.
type Snapshot struct {
	// ID identifies the snapshot for log correlation.
	ID string

	// Endpoints is the service set, sorted by endpoint ID.
	Endpoints []ServiceEndpoint

	// ObservedAt is when the snapshot was taken.
	ObservedAt time.Time
}

// sortEndpoints sorts a service set by ID for deterministic snapshots.
func sortEndpoints(eps []ServiceEndpoint) {
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
}
