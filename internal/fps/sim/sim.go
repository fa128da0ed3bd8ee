package sim

import (
	"math"
	"sync"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
)

// Op names a library function for failure injection.
type Op string

const (
	OpDiscover        Op = "Discover"
	OpDeviceInfo      Op = "DeviceInfo"
	OpConnect         Op = "Connect"
	OpDisconnect      Op = "Disconnect"
	OpDeviceConfig    Op = "DeviceConfig"
	OpDeviceStatus    Op = "DeviceStatus"
	OpAxisStatus      Op = "AxisStatus"
	OpEcuData         Op = "EcuData"
	OpStartAdjustment Op = "StartAdjustment"
	OpResetAxis       Op = "ResetAxis"
	OpPosition        Op = "Position"
	OpPositions       Op = "Positions"
	OpSetPosAverage   Op = "SetPosAverage"
	OpPosAverage      Op = "PosAverage"
)

// DefaultAdjustDuration matches the runtime of the real procedure.
const DefaultAdjustDuration = 60 * time.Second

// Averaging limits in ns: 2^n * 80 ns for n in 0..15.
const (
	minPosAverage = 80
	maxPosAverage = 80 << 15
)

// Device describes one simulated sensor.
type Device struct {
	ID       int
	Address  string // dotted IP, or "USB"
	Features fps.Feature

	// InUse marks a device held by another application: it is
	// discovered but Connect answers DeviceLocked.
	InUse bool

	// Positions are the initial axis positions in nm.
	Positions [fps.AxisCount]float64
	// Drift is added to each axis position per second of simulated time.
	Drift [fps.AxisCount]float64

	Ecu fps.EcuData
}

// Options configures a simulated library.
type Options struct {
	Devices        []Device
	AdjustDuration time.Duration
	// Now is the clock used for adjustment and drift. Defaults to time.Now.
	Now func() time.Time
}

// DefaultDevices returns a single USB device with the ECU option.
func DefaultDevices() []Device {
	return []Device{{
		ID:       1001,
		Address:  "USB",
		Features: fps.FeatureEcu,
		Ecu:      fps.EcuData{Temperature: 21.5, Pressure: 101325, Humidity: 40, RefractiveIndex: 1.000271},
	}}
}

type axisState struct {
	base        float64
	since       time.Time
	signalError bool
	average     uint
}

type device struct {
	def         Device
	connected   bool
	adjustStart time.Time
	adjustEnd   time.Time
	align       bool
	axes        [fps.AxisCount]axisState
}

// SDK is a simulated fps.SDK. Unlike the vendor library it is safe for
// concurrent use.
type SDK struct {
	mu        sync.Mutex
	now       func() time.Time
	adjustFor time.Duration
	all       []*device
	found     []*device
	forced    map[Op]fps.Status
	calls     map[Op]int
}

var _ fps.SDK = (*SDK)(nil)

// New creates a simulated library. Without configured devices it uses
// DefaultDevices.
func New(opts Options) *SDK {
	if len(opts.Devices) == 0 {
		opts.Devices = DefaultDevices()
	}
	if opts.AdjustDuration <= 0 {
		opts.AdjustDuration = DefaultAdjustDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &SDK{
		now:       opts.Now,
		adjustFor: opts.AdjustDuration,
		forced:    make(map[Op]fps.Status),
		calls:     make(map[Op]int),
	}
	start := s.now()
	for _, def := range opts.Devices {
		d := &device{def: def}
		for i := range d.axes {
			d.axes[i] = axisState{base: def.Positions[i], since: start, average: minPosAverage}
		}
		s.all = append(s.all, d)
	}
	return s
}

// Force makes every following call of op return st without side effects.
// Forcing fps.Ok removes the override.
func (s *SDK) Force(op Op, st fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == fps.Ok {
		delete(s.forced, op)
		return
	}
	s.forced[op] = st
}

// Calls returns how often op has been called.
func (s *SDK) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// SetSignalError sets the signal-quality flag of an axis.
func (s *SDK) SetSignalError(devNo uint, axis fps.Axis, bad bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.lookup(devNo); d != nil && axis.Valid() {
		d.axes[axis].signalError = bad
	}
}

// SetAlign switches the alignment mode flag of a device.
func (s *SDK) SetAlign(devNo uint, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.lookup(devNo); d != nil {
		d.align = on
	}
}

// enter records the call and returns a forced status, if any.
func (s *SDK) enter(op Op) (fps.Status, bool) {
	s.calls[op]++
	st, ok := s.forced[op]
	return st, ok
}

func (s *SDK) lookup(devNo uint) *device {
	if devNo >= uint(len(s.found)) {
		return nil
	}
	return s.found[devNo]
}

// connected returns the device or the status a real library reports.
func (s *SDK) connected(devNo uint) (*device, fps.Status) {
	d := s.lookup(devNo)
	if d == nil {
		return nil, fps.NoDevice
	}
	if !d.connected {
		return nil, fps.NotConnected
	}
	return d, fps.Ok
}

func (s *SDK) connectedAxis(devNo uint, axis fps.Axis) (*device, fps.Status) {
	d, st := s.connected(devNo)
	if st != fps.Ok {
		return nil, st
	}
	if !axis.Valid() {
		return nil, fps.NoAxis
	}
	return d, fps.Ok
}

func (d *device) adjusting(now time.Time) bool {
	return !d.adjustEnd.IsZero() && now.Before(d.adjustEnd)
}

func (d *device) position(axis fps.Axis, now time.Time) float64 {
	a := d.axes[axis]
	return a.base + d.def.Drift[axis]*now.Sub(a.since).Seconds()
}

func (d *device) resetAxis(axis fps.Axis, now time.Time) {
	d.axes[axis].base = 0
	d.axes[axis].since = now
	d.axes[axis].signalError = false
}

func matches(ifaces fps.InterfaceType, address string) bool {
	if address == "USB" {
		return ifaces&fps.IfUsb != 0
	}
	return ifaces&fps.IfTcp != 0
}

// Discover implements fps.SDK.
func (s *SDK) Discover(ifaces fps.InterfaceType) (uint, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpDiscover); ok {
		return 0, st
	}
	for _, d := range s.found {
		if d.connected {
			return uint(len(s.found)), fps.Error
		}
	}

	s.found = s.found[:0]
	for _, d := range s.all {
		if matches(ifaces, d.def.Address) {
			s.found = append(s.found, d)
		}
	}
	return uint(len(s.found)), fps.Ok
}

// DeviceInfo implements fps.SDK.
func (s *SDK) DeviceInfo(devNo uint) (fps.DeviceInfo, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpDeviceInfo); ok {
		return fps.DeviceInfo{}, st
	}
	d := s.lookup(devNo)
	if d == nil {
		return fps.DeviceInfo{}, fps.NoDevice
	}
	return fps.DeviceInfo{ID: d.def.ID, Address: d.def.Address, Connected: d.connected}, fps.Ok
}

// Connect implements fps.SDK.
func (s *SDK) Connect(devNo uint) fps.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpConnect); ok {
		return st
	}
	d := s.lookup(devNo)
	if d == nil {
		return fps.NoDevice
	}
	if d.connected || d.def.InUse {
		return fps.DeviceLocked
	}
	d.connected = true
	return fps.Ok
}

// Disconnect implements fps.SDK.
func (s *SDK) Disconnect(devNo uint) fps.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpDisconnect); ok {
		return st
	}
	d, st := s.connected(devNo)
	if st != fps.Ok {
		return st
	}
	d.connected = false
	return fps.Ok
}

// DeviceConfig implements fps.SDK.
func (s *SDK) DeviceConfig(devNo uint) (fps.DeviceConfig, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpDeviceConfig); ok {
		return fps.DeviceConfig{}, st
	}
	d, st := s.connected(devNo)
	if st != fps.Ok {
		return fps.DeviceConfig{}, st
	}
	return fps.DeviceConfig{AxisCount: fps.AxisCount, Features: d.def.Features}, fps.Ok
}

// DeviceStatus implements fps.SDK.
func (s *SDK) DeviceStatus(devNo uint) (bool, bool, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpDeviceStatus); ok {
		return false, false, st
	}
	d, st := s.connected(devNo)
	if st != fps.Ok {
		return false, false, st
	}
	return d.adjusting(s.now()), d.align, fps.Ok
}

// AxisStatus implements fps.SDK. An axis is valid once an adjustment has
// completed.
func (s *SDK) AxisStatus(devNo uint, axis fps.Axis) (bool, bool, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpAxisStatus); ok {
		return false, false, st
	}
	d, st := s.connectedAxis(devNo, axis)
	if st != fps.Ok {
		return false, false, st
	}
	now := s.now()
	valid := !d.adjustEnd.IsZero() && !d.adjusting(now)
	return valid, d.axes[axis].signalError, fps.Ok
}

// EcuData implements fps.SDK. Without the ECU option the library defaults
// are reported.
func (s *SDK) EcuData(devNo uint) (fps.EcuData, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpEcuData); ok {
		return fps.EcuData{}, st
	}
	d, st := s.connected(devNo)
	if st != fps.Ok {
		return fps.EcuData{}, st
	}
	if !d.def.Features.Has(fps.FeatureEcu) {
		return fps.EcuData{RefractiveIndex: 1}, fps.Ok
	}
	return d.def.Ecu, fps.Ok
}

// StartAdjustment implements fps.SDK. Starting while an adjustment is
// running leaves the running one untouched.
func (s *SDK) StartAdjustment(devNo uint) fps.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpStartAdjustment); ok {
		return st
	}
	d, st := s.connected(devNo)
	if st != fps.Ok {
		return st
	}
	now := s.now()
	if d.adjusting(now) {
		return fps.Ok
	}
	d.adjustStart = now
	d.adjustEnd = now.Add(s.adjustFor)
	return fps.Ok
}

// ResetAxis implements fps.SDK.
func (s *SDK) ResetAxis(devNo uint, axis fps.Axis) fps.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpResetAxis); ok {
		return st
	}
	d, st := s.connectedAxis(devNo, axis)
	if st != fps.Ok {
		return st
	}
	d.resetAxis(axis, s.now())
	return fps.Ok
}

// Position implements fps.SDK.
func (s *SDK) Position(devNo uint, axis fps.Axis) (float64, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpPosition); ok {
		return 0, st
	}
	d, st := s.connectedAxis(devNo, axis)
	if st != fps.Ok {
		return 0, st
	}
	return d.position(axis, s.now()), fps.Ok
}

// Positions implements fps.SDK.
func (s *SDK) Positions(devNo uint) ([fps.AxisCount]float64, fps.Status) {
	var out [fps.AxisCount]float64
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpPositions); ok {
		return out, st
	}
	d, st := s.connected(devNo)
	if st != fps.Ok {
		return out, st
	}
	now := s.now()
	for _, a := range fps.Axes() {
		out[a] = d.position(a, now)
	}
	return out, fps.Ok
}

// SetPosAverage implements fps.SDK. The value is rounded to the nearest
// 2^n * 80 ns; values outside the supported range are ignored.
func (s *SDK) SetPosAverage(devNo uint, axis fps.Axis, ns uint) fps.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpSetPosAverage); ok {
		return st
	}
	d, st := s.connectedAxis(devNo, axis)
	if st != fps.Ok {
		return st
	}
	if ns < minPosAverage || ns > maxPosAverage {
		return fps.Ok
	}
	d.axes[axis].average = quantize(ns)
	return fps.Ok
}

// PosAverage implements fps.SDK.
func (s *SDK) PosAverage(devNo uint, axis fps.Axis) (uint, fps.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.enter(OpPosAverage); ok {
		return 0, st
	}
	d, st := s.connectedAxis(devNo, axis)
	if st != fps.Ok {
		return 0, st
	}
	return d.axes[axis].average, fps.Ok
}

func quantize(ns uint) uint {
	n := math.Round(math.Log2(float64(ns) / minPosAverage))
	if n < 0 {
		n = 0
	}
	if n > 15 {
		n = 15
	}
	return minPosAverage << uint(n)
}
