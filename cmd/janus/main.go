// Janus is a reverse proxy with automatic TLS for dynamic service fleets.
//
// It watches a service registry for backend endpoints, derives host-based
// routes from their metadata, hot-reloads its routing table without dropping
// traffic, and obtains and renews TLS certificates over ACME for the hosts
// that ask for them.
//
// Usage:
//
//	# Start the proxy with default configuration
//	janus run
//
//	# Start with a custom configuration file
//	janus run --config /etc/janus/config.yaml
//
//	# Validate configuration without starting
//	janus validate
//
//	# Inspect managed certificates
//	janus certs list
//	janus certs info example.com
//
//	# Flag a certificate for renewal on the next sweep
//	janus certs renew example.com
//
//	# Show version information
//	janus version
package main

func main() {
	Execute()
}
