package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
)

// State is the lifecycle state of a device session.
type State int

const (
	Uninitialized State = iota
	Discovering
	Connected
	AdjustingAfterConnect
	Ready
	Disconnected
)

var stateNames = [...]string{
	Uninitialized:         "Uninitialized",
	Discovering:           "Discovering",
	Connected:             "Connected",
	AdjustingAfterConnect: "AdjustingAfterConnect",
	Ready:                 "Ready",
	Disconnected:          "Disconnected",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Startup records the outcome of the construction sequence. Failures are
// kept here instead of being returned.
type Startup struct {
	Time     time.Time  `json:"time"`
	Devices  uint       `json:"devices"`
	Discover fps.Status `json:"discover"`
	Connect  fps.Status `json:"connect"`
	Adjust   fps.Status `json:"adjust"`
}

// OK reports whether every construction step succeeded.
func (s Startup) OK() bool {
	return s.Discover == fps.Ok && s.Connect == fps.Ok && s.Adjust == fps.Ok
}

// DeviceStatus is the global state of a device.
type DeviceStatus struct {
	Adjusting bool `json:"adjusting"`
	Aligning  bool `json:"aligning"`
}

// AxisStatus is the state of one measurement channel.
type AxisStatus struct {
	Valid      bool `json:"valid"`
	SignalWeak bool `json:"signalWeak"`
}

// Info is the static description of a connected device.
type Info struct {
	Device fps.DeviceInfo   `json:"device"`
	Config fps.DeviceConfig `json:"config"`
	Ecu    fps.EcuData      `json:"ecu"`
}

// Session owns the connection to one device. Hardware methods are not safe
// for concurrent use; the Driver serializes them on its worker. State and
// Startup may be read from any goroutine.
type Session struct {
	sdk    fps.SDK
	dev    int
	devNo  uint
	logger *slog.Logger

	mu      sync.RWMutex
	state   State
	startup Startup

	closeOnce sync.Once
}

// Open discovers devices on ifaces, connects to devNo and starts the
// adjustment procedure. It never fails: every status is logged and kept in
// the Startup report. A negative devNo reaches the library as an invalid
// sequence number and is reported as given.
func Open(sdk fps.SDK, devNo int, ifaces fps.InterfaceType, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if ifaces == fps.IfNone {
		ifaces = fps.IfAll
	}
	s := &Session{
		sdk:    sdk,
		dev:    devNo,
		devNo:  uint(devNo),
		logger: logger.With("dev", devNo),
	}
	s.startup.Time = time.Now()

	s.setState(Discovering)
	n, st := sdk.Discover(ifaces)
	s.startup.Devices, s.startup.Discover = n, st
	s.logStatus("FPS_discover", st, "ifaces", ifaces.String(), "found", n)

	st = sdk.Connect(s.devNo)
	s.startup.Connect = st
	s.logStatus("FPS_connect", st)
	if st == fps.Ok {
		s.setState(Connected)
	} else {
		s.setState(Disconnected)
	}

	st = sdk.StartAdjustment(s.devNo)
	s.startup.Adjust = st
	s.logStatus("FPS_startAdjustment", st)
	if st == fps.Ok && s.State() == Connected {
		s.setState(AdjustingAfterConnect)
	}
	return s
}

// logStatus logs the translated status. Codes without a translation are
// not logged.
func (s *Session) logStatus(op string, st fps.Status, attrs ...any) {
	text, ok := fps.Describe(st)
	if !ok {
		return
	}
	level := slog.LevelInfo
	if st != fps.Ok {
		level = slog.LevelWarn
	}
	args := append([]any{"op", op, "status", int(st)}, attrs...)
	s.logger.Log(context.Background(), level, text, args...)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Startup returns the construction report.
func (s *Session) Startup() Startup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startup
}

// DevNo returns the device sequence number as configured.
func (s *Session) DevNo() int { return s.dev }

// ReadDeviceStatus queries the adjustment and alignment flags. The first
// report of a finished adjustment moves the session to Ready.
func (s *Session) ReadDeviceStatus() (DeviceStatus, fps.Status) {
	adjust, align, st := s.sdk.DeviceStatus(s.devNo)
	if st != fps.Ok {
		return DeviceStatus{}, st
	}
	s.mu.Lock()
	if s.state == AdjustingAfterConnect && !adjust {
		s.state = Ready
	}
	s.mu.Unlock()
	return DeviceStatus{Adjusting: adjust, Aligning: align}, st
}

// ReadAxisStatus queries the alignment and signal flags of an axis.
func (s *Session) ReadAxisStatus(axis fps.Axis) (AxisStatus, fps.Status) {
	valid, weak, st := s.sdk.AxisStatus(s.devNo, axis)
	if st != fps.Ok {
		return AxisStatus{}, st
	}
	return AxisStatus{Valid: valid, SignalWeak: weak}, st
}

// ReadPosition returns the position of an axis in nm.
func (s *Session) ReadPosition(axis fps.Axis) (float64, fps.Status) {
	return s.sdk.Position(s.devNo, axis)
}

// ReadPositions returns the positions of all axes in nm with one call.
func (s *Session) ReadPositions() ([fps.AxisCount]float64, fps.Status) {
	return s.sdk.Positions(s.devNo)
}

// SetPosAverage applies the averaging time ns to every axis. The first
// failing status is returned; every status is logged.
func (s *Session) SetPosAverage(ns uint) fps.Status {
	first := fps.Ok
	for _, axis := range fps.Axes() {
		st := s.sdk.SetPosAverage(s.devNo, axis, ns)
		s.logStatus("FPS_setPosAverage", st, "axis", int(axis), "ns", ns)
		if first == fps.Ok {
			first = st
		}
	}
	return first
}

// PosAverages returns the averaging time of every axis in ns.
func (s *Session) PosAverages() ([fps.AxisCount]uint, fps.Status) {
	var out [fps.AxisCount]uint
	for _, axis := range fps.Axes() {
		ns, st := s.sdk.PosAverage(s.devNo, axis)
		if st != fps.Ok {
			return out, st
		}
		out[axis] = ns
	}
	return out, fps.Ok
}

// ResetAxis zeroes the position and clears the error flag of an axis.
func (s *Session) ResetAxis(axis fps.Axis) fps.Status {
	st := s.sdk.ResetAxis(s.devNo, axis)
	s.logStatus("FPS_resetAxis", st, "axis", int(axis))
	return st
}

// Info gathers device information, configuration and ECU data. Fields
// whose call failed are left zero.
func (s *Session) Info() (Info, fps.Status) {
	var info Info
	var first fps.Status

	keep := func(st fps.Status) {
		if first == fps.Ok {
			first = st
		}
	}
	var st fps.Status
	info.Device, st = s.sdk.DeviceInfo(s.devNo)
	keep(st)
	info.Config, st = s.sdk.DeviceConfig(s.devNo)
	keep(st)
	info.Ecu, st = s.sdk.EcuData(s.devNo)
	keep(st)
	return info, first
}

// Close disconnects the device. Only the first call reaches the library.
func (s *Session) Close() fps.Status {
	st := fps.Ok
	s.closeOnce.Do(func() {
		st = s.sdk.Disconnect(s.devNo)
		s.logStatus("FPS_disconnect", st)
		s.setState(Disconnected)
	})
	return st
}
