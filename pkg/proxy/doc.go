// Package proxy implements the data-plane engine: host-based HTTP routing,
// TLS termination with per-host certificate selection, HTTP to HTTPS
// redirects, and ACME HTTP-01 challenge serving.
//
// The engine holds the active route table behind an atomic pointer. Reloads
// swap the pointer; requests in flight keep the table they started with and
// are never interrupted. Requests for hosts the table does not know are
// answered with 421 Misdirected Request.
package proxy
