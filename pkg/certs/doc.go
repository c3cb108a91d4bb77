// Package certs obtains, renews, and persists TLS certificates.
//
// Each certificate name moves through an explicit state machine:
//
//	NONE → REQUESTED → CHALLENGE_PENDING → VALID → (RENEWING → VALID | EXPIRED)
//
// Certificates are ordered over ACME v2 with HTTP-01 challenges; challenge
// tokens are published to an in-memory store the proxy engine serves at the
// well-known path. At most one order is in flight per certificate name, and
// a renewal never removes the currently serving material until the
// replacement has been validated and persisted — the swap is atomic, never
// delete-then-create. A daily sweep renews certificates approaching expiry
// independently of the registry event stream.
package certs
