package routes

import (
	"sort"
	"strings"
	"time"

	"mercator-hq/janus/pkg/registry"
)

// Build converts a service set into a validated routing table.
//
// Build is pure: the same endpoint set always yields the same table, with
// entries sorted by host for reproducible diffing. Validation failures are
// isolated per endpoint:
//
//   - A host alias claimed by more than one endpoint drops the later
//     endpoint's routes entirely; a conflict is recorded for the loser and
//     all other endpoints are unaffected. Endpoints are ranked by ID, so
//     the winner is deterministic.
//   - A certificate name requested with different domain sets by different
//     endpoints keeps the first registrant's request; the later endpoint's
//     certificate request is dropped (its routes stay, HTTP-only) and a
//     conflict is recorded.
//   - An endpoint wanting a certificate but resolving to no certificate
//     name is routed over plain HTTP until a certificate exists.
func Build(endpoints []registry.ServiceEndpoint) (*Table, error) {
	// Deterministic ranking: endpoint ID order decides conflict winners.
	sorted := make([]registry.ServiceEndpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	t := &Table{
		byHost:  make(map[string]Entry),
		builtAt: time.Now().UTC(),
	}

	hostOwner := make(map[string]string)           // host → endpoint ID
	certOwner := make(map[string]CertRequest)      // cert name → winning request
	dropped := make(map[string]struct{}, len(sorted)) // endpoints with conflicting hosts

	// First pass: host uniqueness. An endpoint with any conflicting alias
	// loses all of its routes, not just the contested one.
	for _, ep := range sorted {
		if err := ep.Validate(); err != nil {
			continue
		}
		for _, host := range ep.HostAliases {
			host = normalizeHost(host)
			if owner, taken := hostOwner[host]; taken && owner != ep.ID {
				t.conflicts = append(t.conflicts, &ConflictError{
					Kind:     ConflictHost,
					Subject:  host,
					WinnerID: owner,
					LoserID:  ep.ID,
				})
				dropped[ep.ID] = struct{}{}
			}
		}
		if _, isDropped := dropped[ep.ID]; isDropped {
			continue
		}
		for _, host := range ep.HostAliases {
			hostOwner[normalizeHost(host)] = ep.ID
		}
	}

	// Second pass: certificate demands and entries for surviving endpoints.
	for _, ep := range sorted {
		if err := ep.Validate(); err != nil {
			continue
		}
		if _, isDropped := dropped[ep.ID]; isDropped {
			continue
		}

		certName := resolveCertName(ep, t, certOwner)

		for _, host := range ep.HostAliases {
			host = normalizeHost(host)
			entry := Entry{
				Host:       host,
				Upstream:   ep.Upstream,
				EndpointID: ep.ID,
				CertName:   certName,
			}
			t.byHost[host] = entry
			t.entries = append(t.entries, entry)
		}
	}

	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].Host < t.entries[j].Host })

	for _, req := range certOwner {
		t.requests = append(t.requests, req)
	}
	sort.Slice(t.requests, func(i, j int) bool { return t.requests[i].Name < t.requests[j].Name })

	if len(t.entries) == 0 && len(endpoints) == 0 {
		return t, ErrNoEndpoints
	}
	return t, nil
}

// resolveCertName works out which certificate name an endpoint's entries
// reference, recording the certificate demand and any cert-name conflict.
// Returns empty when the endpoint is served over plain HTTP.
func resolveCertName(ep registry.ServiceEndpoint, t *Table, certOwner map[string]CertRequest) string {
	name := ep.ResolvedCertName()
	if name == "" {
		return ""
	}

	// An explicit CERT_NAME without AUTO_CERT references externally
	// managed material: the entry points at the record, but no demand to
	// obtain one is registered.
	if !ep.WantsAutoCert {
		if ep.CertName != "" {
			return ep.CertName
		}
		return ""
	}

	domains := make([]string, len(ep.HostAliases))
	for i, h := range ep.HostAliases {
		domains[i] = normalizeHost(h)
	}

	if existing, taken := certOwner[name]; taken {
		if equalDomains(existing.Domains, domains) {
			// Same demand from another endpoint; share the record.
			return name
		}
		t.conflicts = append(t.conflicts, &ConflictError{
			Kind:     ConflictCertName,
			Subject:  name,
			WinnerID: existing.EndpointID,
			LoserID:  ep.ID,
		})
		// The later registrant keeps its routes but gets no
		// certificate request; it serves HTTP-only until resolved.
		return ""
	}

	certOwner[name] = CertRequest{Name: name, Domains: domains, EndpointID: ep.ID}
	return name
}

// normalizeHost lowercases and trims a host name.
func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// equalDomains compares two ordered domain lists.
func equalDomains(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
