package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/ssrf-beamline/fpsioc/internal/config"
)

const (
	ServiceType = "_fpsioc._tcp"
	Domain      = "local."
)

// ErrNotAdvertising is returned by Update before Start.
var ErrNotAdvertising = errors.New("discovery: not advertising")

// Advertiser registers the service with zeroconf.
type Advertiser struct {
	cfg    config.DiscoveryConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
	txt    []string
}

// NewAdvertiser creates an advertiser. Nothing is sent until Start.
func NewAdvertiser(cfg config.DiscoveryConfig, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{cfg: cfg, logger: logger.With("component", "discovery")}
}

// interfaces resolves the configured interface names. nil means all.
func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if len(a.cfg.Interfaces) == 0 {
		return nil, nil
	}
	ifaces := make([]net.Interface, 0, len(a.cfg.Interfaces))
	for _, name := range a.cfg.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("discovery interface %q: %w", name, err)
		}
		ifaces = append(ifaces, *iface)
	}
	return ifaces, nil
}

// Start registers the service, replacing a previous registration.
func (a *Advertiser) Start(info Info) error {
	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}

	instance := info.Instance
	if instance == "" {
		instance = a.cfg.Instance
	}
	txt := EncodeTXT(info)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, info.Port, txt, ifaces)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}
	a.server = server
	a.txt = txt
	a.logger.Info("advertising service", "instance", instance, "type", ServiceType, "port", info.Port)
	return nil
}

// Update replaces the TXT records. It is a no-op when nothing changed.
func (a *Advertiser) Update(info Info) error {
	txt := EncodeTXT(info)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotAdvertising
	}
	if slices.Equal(txt, a.txt) {
		return nil
	}
	a.server.SetText(txt)
	a.txt = txt
	a.logger.Debug("updated TXT records", "txt", txt)
	return nil
}

// Stop withdraws the service. It is safe to call more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info("stopped advertising")
	}
}
