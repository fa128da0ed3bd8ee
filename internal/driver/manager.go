package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
	"github.com/ssrf-beamline/fpsioc/internal/param"
)

var (
	// ErrPortExists indicates Configure was called twice with one name.
	ErrPortExists = errors.New("port already configured")
	// ErrPortNotFound indicates an unknown port name.
	ErrPortNotFound = errors.New("port not found")
)

// UpdateFunc receives the parameter callbacks of every port.
type UpdateFunc func(port string, u param.Update)

// Manager owns the configured ports of the process.
type Manager struct {
	mu      sync.RWMutex
	sdk     fps.SDK
	base    Options
	drivers map[string]*Driver
	pending map[string]bool
	order   []string
	subs    []UpdateFunc
	closed  bool
}

// NewManager creates a port registry. base supplies the options shared by
// all ports; PortName and DevNo are set per Configure call. Every port
// calls into sdk through one lock.
func NewManager(sdk fps.SDK, base Options) *Manager {
	if base.Logger == nil {
		base.Logger = slog.Default()
	}
	return &Manager{
		sdk:     fps.Serialized(sdk),
		base:    base,
		drivers: make(map[string]*Driver),
		pending: make(map[string]bool),
	}
}

// Configure creates the driver for portName bound to device devNo.
// Hardware failures do not make it fail; they are logged and kept in the
// session's Startup report. Only an empty or duplicate port name, or a
// closed manager, is rejected.
func (m *Manager) Configure(portName string, devNo int) error {
	if portName == "" {
		return fmt.Errorf("configure: empty port name")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.drivers[portName]; ok || m.pending[portName] {
		m.mu.Unlock()
		return fmt.Errorf("configure %s: %w", portName, ErrPortExists)
	}
	m.pending[portName] = true
	opts := m.base
	m.mu.Unlock()

	opts.PortName = portName
	opts.DevNo = devNo

	// discovery and connect can take long; other ports stay reachable
	d := New(m.sdk, opts)

	m.mu.Lock()
	delete(m.pending, portName)
	if m.closed {
		m.mu.Unlock()
		_ = d.Close()
		return ErrClosed
	}
	for _, fn := range m.subs {
		fn := fn
		d.Subscribe(func(u param.Update) { fn(portName, u) })
	}
	if m.base.Trace != opts.Trace {
		d.SetTrace(m.base.Trace)
	}
	m.drivers[portName] = d
	m.order = append(m.order, portName)
	m.mu.Unlock()

	st := d.Session().Startup()
	m.base.Logger.Info("port configured",
		"port", portName, "dev", devNo, "state", d.Session().State().String(), "ok", st.OK())
	return nil
}

// Get returns the driver of a port.
func (m *Manager) Get(portName string) (*Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[portName]
	if !ok {
		return nil, fmt.Errorf("%s: %w", portName, ErrPortNotFound)
	}
	return d, nil
}

// Lookup is Get returning the request surface only.
func (m *Manager) Lookup(portName string) (Port, error) {
	d, err := m.Get(portName)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// List returns all drivers in configuration order.
func (m *Manager) List() []*Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Driver, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.drivers[name])
	}
	return out
}

// Names returns the port names sorted alphabetically.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	return names
}

// Subscribe registers fn on every existing and future port.
func (m *Manager) Subscribe(fn UpdateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
	for name, d := range m.drivers {
		name := name
		d.Subscribe(func(u param.Update) { fn(name, u) })
	}
}

// SetTrace toggles trace output on all ports and on ports configured
// later.
func (m *Manager) SetTrace(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base.Trace = on
	for _, d := range m.drivers {
		d.SetTrace(on)
	}
}

// Close closes every port once, in reverse configuration order.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	drivers := make([]*Driver, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		drivers = append(drivers, m.drivers[m.order[i]])
	}
	m.mu.Unlock()

	var errs []error
	for _, d := range drivers {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Port(), err))
		}
	}
	return errors.Join(errs...)
}
