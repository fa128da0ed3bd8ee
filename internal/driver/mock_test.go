package driver

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
	"github.com/ssrf-beamline/fpsioc/internal/trace"
)

// mockSDK is a testify mock of the vendor library.
type mockSDK struct{ mock.Mock }

var _ fps.SDK = (*mockSDK)(nil)

func (m *mockSDK) Discover(ifaces fps.InterfaceType) (uint, fps.Status) {
	args := m.Called(ifaces)
	return args.Get(0).(uint), args.Get(1).(fps.Status)
}

func (m *mockSDK) DeviceInfo(devNo uint) (fps.DeviceInfo, fps.Status) {
	args := m.Called(devNo)
	return args.Get(0).(fps.DeviceInfo), args.Get(1).(fps.Status)
}

func (m *mockSDK) Connect(devNo uint) fps.Status {
	return m.Called(devNo).Get(0).(fps.Status)
}

func (m *mockSDK) Disconnect(devNo uint) fps.Status {
	return m.Called(devNo).Get(0).(fps.Status)
}

func (m *mockSDK) DeviceConfig(devNo uint) (fps.DeviceConfig, fps.Status) {
	args := m.Called(devNo)
	return args.Get(0).(fps.DeviceConfig), args.Get(1).(fps.Status)
}

func (m *mockSDK) DeviceStatus(devNo uint) (bool, bool, fps.Status) {
	args := m.Called(devNo)
	return args.Bool(0), args.Bool(1), args.Get(2).(fps.Status)
}

func (m *mockSDK) AxisStatus(devNo uint, axis fps.Axis) (bool, bool, fps.Status) {
	args := m.Called(devNo, axis)
	return args.Bool(0), args.Bool(1), args.Get(2).(fps.Status)
}

func (m *mockSDK) EcuData(devNo uint) (fps.EcuData, fps.Status) {
	args := m.Called(devNo)
	return args.Get(0).(fps.EcuData), args.Get(1).(fps.Status)
}

func (m *mockSDK) StartAdjustment(devNo uint) fps.Status {
	return m.Called(devNo).Get(0).(fps.Status)
}

func (m *mockSDK) ResetAxis(devNo uint, axis fps.Axis) fps.Status {
	return m.Called(devNo, axis).Get(0).(fps.Status)
}

func (m *mockSDK) Position(devNo uint, axis fps.Axis) (float64, fps.Status) {
	args := m.Called(devNo, axis)
	return args.Get(0).(float64), args.Get(1).(fps.Status)
}

func (m *mockSDK) Positions(devNo uint) ([fps.AxisCount]float64, fps.Status) {
	args := m.Called(devNo)
	return args.Get(0).([fps.AxisCount]float64), args.Get(1).(fps.Status)
}

func (m *mockSDK) SetPosAverage(devNo uint, axis fps.Axis, ns uint) fps.Status {
	return m.Called(devNo, axis, ns).Get(0).(fps.Status)
}

func (m *mockSDK) PosAverage(devNo uint, axis fps.Axis) (uint, fps.Status) {
	args := m.Called(devNo, axis)
	return args.Get(0).(uint), args.Get(1).(fps.Status)
}

// expectStartup sets up a successful construction sequence for devNo 0.
func expectStartup(m *mockSDK) {
	m.On("Discover", fps.IfAll).Return(uint(1), fps.Ok).Once()
	m.On("Connect", uint(0)).Return(fps.Ok).Once()
	m.On("StartAdjustment", uint(0)).Return(fps.Ok).Once()
	m.On("Disconnect", uint(0)).Return(fps.Ok).Maybe()
}

// syncBuffer is a bytes.Buffer safe for use by a slog handler and a test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	h := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), buf
}

// recorder collects trace records in memory.
type recorder struct {
	mu      sync.Mutex
	records []trace.Record
}

func (r *recorder) Record(rec trace.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) all() []trace.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]trace.Record(nil), r.records...)
}
