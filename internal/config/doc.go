// Package config loads the process configuration.
//
// Values start from Default, are overlaid by an optional YAML file, then by
// FPS_* environment variables, and are validated last. The result covers
// the vendor library selection, the ports to configure at startup and the
// HTTP, telemetry, auth, logging, audit, discovery and trace settings.
package config
