// Package config provides configuration loading, validation, and defaults
// for the Janus edge proxy.
//
// Configuration is loaded from a YAML file, merged with default values, and
// optionally overridden by JANUS_* environment variables. The final
// configuration is validated before use; an invalid configuration at startup
// is fatal.
//
// Example:
//
//	cfg, err := config.LoadConfig("config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
package config
