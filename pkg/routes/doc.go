// Package routes builds validated routing tables from service snapshots.
//
// Build is a pure function from a set of service endpoints to an immutable
// Table mapping host names to upstreams. Host-alias conflicts drop the
// offending endpoint's routes only; the rest of the table is unaffected.
// Tables are superseded wholesale on each rebuild and never patched in
// place, so readers always observe a consistent snapshot.
package routes
