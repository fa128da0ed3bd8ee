package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
)

// MaxPosAverage is the longest averaging time the device supports.
const MaxPosAverage = (80 << 15) * time.Nanosecond

// Validate checks cfg for consistency.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.SDK != "vendor" && cfg.SDK != "sim" {
		return fmt.Errorf("invalid sdk %q, must be one of: vendor, sim", cfg.SDK)
	}
	if _, err := fps.ParseInterfaces(cfg.Interfaces); err != nil {
		return err
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll interval must be non-negative, got %v", cfg.PollInterval)
	}

	if cfg.PosAverage < 0 || cfg.PosAverage > MaxPosAverage {
		return fmt.Errorf("position averaging must be between 0 and %v, got %v", MaxPosAverage, cfg.PosAverage)
	}

	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", cfg.RequestTimeout)
	}

	if err := validatePorts(cfg.Ports); err != nil {
		return fmt.Errorf("ports validation failed: %w", err)
	}
	if err := validateHTTP(&cfg.HTTP); err != nil {
		return fmt.Errorf("http validation failed: %w", err)
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if cfg.Audit.Enabled && cfg.Audit.File == "" {
		return fmt.Errorf("audit validation failed: file is required when enabled")
	}
	if cfg.Discovery.Enabled && cfg.Discovery.Instance == "" {
		return fmt.Errorf("discovery validation failed: instance name is required when enabled")
	}
	if cfg.SDK == "sim" {
		if err := validateSimulation(&cfg.Simulation); err != nil {
			return fmt.Errorf("simulation validation failed: %w", err)
		}
	}
	return nil
}

func validatePorts(ports []PortConfig) error {
	seen := make(map[string]bool, len(ports))
	for i, p := range ports {
		if p.Name == "" {
			return fmt.Errorf("port %d: name is required", i)
		}
		if strings.ContainsAny(p.Name, " \t/") {
			return fmt.Errorf("port %q: name must not contain spaces or slashes", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("port %q configured twice", p.Name)
		}
		if p.Device < 0 {
			return fmt.Errorf("port %q: device must be non-negative, got %d", p.Name, p.Device)
		}
		seen[p.Name] = true
	}
	return nil
}

func validateHTTP(h *HTTPConfig) error {
	if !h.Enabled {
		return nil
	}
	if h.Addr == "" {
		return fmt.Errorf("addr is required when enabled")
	}
	if h.ReadTimeout < 0 || h.WriteTimeout < 0 || h.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	if h.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", h.ShutdownTimeout)
	}
	return nil
}

func validateTelemetry(t *TelemetryConfig) error {
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}
	if t.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", t.HeartbeatJitter)
	}
	if t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}
	if t.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", t.BufferSize)
	}
	if t.BufferRetention < 0 {
		return fmt.Errorf("buffer retention must be non-negative, got %v", t.BufferRetention)
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	if !a.Enabled {
		return nil
	}
	switch a.Algorithm {
	case "HS256":
		if a.Secret == "" {
			return fmt.Errorf("HS256 requires a secret")
		}
	case "RS256":
		if a.PublicKeyFile == "" {
			return fmt.Errorf("RS256 requires a public key file")
		}
	default:
		return fmt.Errorf("invalid algorithm %q, must be one of: HS256, RS256", a.Algorithm)
	}
	return nil
}

func validateLog(l *LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q, must be one of: text, json", l.Format)
	}
	if l.File != "" && l.MaxSizeMB <= 0 {
		return fmt.Errorf("maxSizeMb must be positive when logging to a file")
	}
	return nil
}

func validateSimulation(s *SimulationConfig) error {
	if s.AdjustDuration < 0 {
		return fmt.Errorf("adjust duration must be non-negative, got %v", s.AdjustDuration)
	}
	for i, d := range s.Devices {
		if d.Address == "" {
			return fmt.Errorf("device %d: address is required (IP or USB)", i)
		}
		for _, f := range d.Features {
			if _, err := fps.ParseFeature(f); err != nil {
				return fmt.Errorf("device %d: %w", i, err)
			}
		}
		if len(d.Positions) > fps.AxisCount || len(d.Drift) > fps.AxisCount {
			return fmt.Errorf("device %d: at most %d positions and drift values", i, fps.AxisCount)
		}
	}
	return nil
}
