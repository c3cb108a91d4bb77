// Package reload applies new routing tables to the live proxy engine.
//
// Each reload renders a deterministic configuration artifact from the
// table, validates it, and only then publishes the table to the engine in
// one atomic swap. A failed validation aborts the reload and leaves the
// previous configuration active. Reloads are serialized: a request arriving
// while one is in progress is queued, and at most one request stays
// pending — a newer table supersedes an unapplied older one.
package reload
