// Package server wires the control plane together: the registry watcher
// feeds route table builds, the reload controller publishes validated
// tables to the proxy engine, and the certificate manager keeps TLS
// material fresh for every demand the table announces. It also runs the
// three listeners (plain HTTP, TLS, admin) and owns graceful shutdown.
package server
