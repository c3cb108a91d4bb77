// Package registry observes the set of running backend services and their
// routing metadata.
//
// Backends advertise themselves through a metadata convention carried as
// key-value pairs (VIRTUAL_HOST, AUTO_CERT, CERT_NAME), the same convention
// used by label-based container orchestrators. A Source delivers service
// descriptors and change events; the Watcher coalesces event bursts into
// debounced snapshots and survives source disconnects with capped exponential
// backoff, serving the last-known-good snapshot meanwhile.
package registry
