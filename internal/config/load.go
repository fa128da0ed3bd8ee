package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Load merges Default + the YAML file at path (skipped when empty) +
// FPS_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Unknown keys are errors.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies FPS_* environment variables to cfg.
func applyEnvOverrides(cfg *Config) error {
	strVars := map[string]*string{
		"FPS_SDK":                  &cfg.SDK,
		"FPS_INTERFACES":           &cfg.Interfaces,
		"FPS_STARTUP":              &cfg.Startup,
		"FPS_HTTP_ADDR":            &cfg.HTTP.Addr,
		"FPS_AUTH_ALGORITHM":       &cfg.Auth.Algorithm,
		"FPS_AUTH_SECRET":          &cfg.Auth.Secret,
		"FPS_AUTH_PUBLIC_KEY_FILE": &cfg.Auth.PublicKeyFile,
		"FPS_LOG_LEVEL":            &cfg.Log.Level,
		"FPS_LOG_FORMAT":           &cfg.Log.Format,
		"FPS_LOG_FILE":             &cfg.Log.File,
		"FPS_AUDIT_FILE":           &cfg.Audit.File,
		"FPS_DISCOVERY_INSTANCE":   &cfg.Discovery.Instance,
		"FPS_TRACE_FILE":           &cfg.Trace.File,
	}
	for name, dst := range strVars {
		if val, ok := os.LookupEnv(name); ok {
			*dst = val
		}
	}

	boolVars := map[string]*bool{
		"FPS_DEBUG":             &cfg.Debug,
		"FPS_HTTP_ENABLED":      &cfg.HTTP.Enabled,
		"FPS_AUTH_ENABLED":      &cfg.Auth.Enabled,
		"FPS_AUDIT_ENABLED":     &cfg.Audit.Enabled,
		"FPS_DISCOVERY_ENABLED": &cfg.Discovery.Enabled,
	}
	for name, dst := range boolVars {
		if val := os.Getenv(name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}

	durVars := map[string]*time.Duration{
		"FPS_POLL_INTERVAL":                &cfg.PollInterval,
		"FPS_POS_AVERAGE":                  &cfg.PosAverage,
		"FPS_REQUEST_TIMEOUT":              &cfg.RequestTimeout,
		"FPS_TELEMETRY_HEARTBEAT_INTERVAL": &cfg.Telemetry.HeartbeatInterval,
		"FPS_TELEMETRY_HEARTBEAT_JITTER":   &cfg.Telemetry.HeartbeatJitter,
		"FPS_SIM_ADJUST_DURATION":          &cfg.Simulation.AdjustDuration,
	}
	for name, dst := range durVars {
		if val := os.Getenv(name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}

	if val := os.Getenv("FPS_TELEMETRY_BUFFER_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("FPS_TELEMETRY_BUFFER_SIZE: %w", err)
		}
		cfg.Telemetry.BufferSize = n
	}

	if val := os.Getenv("FPS_PORTS"); val != "" {
		ports, err := ParsePorts(val)
		if err != nil {
			return fmt.Errorf("FPS_PORTS: %w", err)
		}
		cfg.Ports = ports
	}

	return nil
}

// ParsePorts parses a port list of the form "FPS1:0,FPS2:1".
func ParsePorts(s string) ([]PortConfig, error) {
	var ports []PortConfig
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, dev, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("port %q: want name:device", item)
		}
		n, err := strconv.Atoi(strings.TrimSpace(dev))
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", item, err)
		}
		ports = append(ports, PortConfig{Name: strings.TrimSpace(name), Device: n})
	}
	return ports, nil
}
