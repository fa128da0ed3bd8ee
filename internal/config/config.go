package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the complete process configuration.
type Config struct {
	// SDK selects the control library: "vendor" or "sim".
	SDK        string `yaml:"sdk"`
	Interfaces string `yaml:"interfaces"`
	// Debug is the initial trace flag of every port.
	Debug        bool          `yaml:"debug"`
	PollInterval time.Duration `yaml:"pollInterval"`
	// PosAverage is the position averaging time applied to every axis
	// after connecting. Zero keeps the device setting.
	PosAverage time.Duration `yaml:"posAverage"`
	// RequestTimeout bounds how long a control request waits for a busy
	// port before it is given up.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Ports          []PortConfig  `yaml:"ports"`
	// Startup is an optional command script run after the ports above
	// are configured.
	Startup string `yaml:"startup"`

	HTTP       HTTPConfig       `yaml:"http"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	Audit      AuditConfig      `yaml:"audit"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Trace      TraceConfig      `yaml:"trace"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// PortConfig binds a port name to a device sequence number.
type PortConfig struct {
	Name   string `yaml:"name"`
	Device int    `yaml:"device"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// TelemetryConfig holds event stream settings.
type TelemetryConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter"`
	BufferSize        int           `yaml:"bufferSize"`
	BufferRetention   time.Duration `yaml:"bufferRetention"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Algorithm is HS256 or RS256.
	Algorithm     string `yaml:"algorithm"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
}

// LogConfig holds process log settings. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// SlogLevel converts Level to a slog level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AuditConfig holds write audit settings.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// DiscoveryConfig holds mDNS advertisement settings.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	// Interfaces restricts advertisement to the named network interfaces.
	Interfaces []string `yaml:"interfaces"`
}

// TraceConfig holds I/O capture settings. An empty File disables capture.
type TraceConfig struct {
	File string `yaml:"file"`
}

// SimulationConfig describes the simulated devices used with sdk: sim.
type SimulationConfig struct {
	AdjustDuration time.Duration `yaml:"adjustDuration"`
	Devices        []SimDevice   `yaml:"devices"`
}

// SimDevice is one simulated sensor.
type SimDevice struct {
	ID        int       `yaml:"id"`
	Address   string    `yaml:"address"`
	Features  []string  `yaml:"features"`
	InUse     bool      `yaml:"inUse"`
	Positions []float64 `yaml:"positions"`
	Drift     []float64 `yaml:"drift"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SDK:            "vendor",
		Interfaces:     "all",
		RequestTimeout: 5 * time.Second,
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			HeartbeatInterval: 15 * time.Second,
			HeartbeatJitter:   2 * time.Second,
			BufferSize:        50,
			BufferRetention:   time.Hour,
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Audit: AuditConfig{
			Enabled:    true,
			File:       "audit/audit.jsonl",
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 90,
		},
		Discovery: DiscoveryConfig{
			Instance: "fpsioc",
		},
		Simulation: SimulationConfig{
			AdjustDuration: 60 * time.Second,
		},
	}
}

// Summary returns a one-line description for startup logs.
func (c *Config) Summary() string {
	names := make([]string, 0, len(c.Ports))
	for _, p := range c.Ports {
		names = append(names, fmt.Sprintf("%s=%d", p.Name, p.Device))
	}
	return fmt.Sprintf("sdk=%s interfaces=%s ports=[%s] http=%t(%s) auth=%t discovery=%t",
		c.SDK, c.Interfaces, strings.Join(names, ","), c.HTTP.Enabled, c.HTTP.Addr, c.Auth.Enabled, c.Discovery.Enabled)
}
