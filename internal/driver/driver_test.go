package driver

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
	"github.com/ssrf-beamline/fpsioc/internal/fps/sim"
	"github.com/ssrf-beamline/fpsioc/internal/param"
	"github.com/ssrf-beamline/fpsioc/internal/trace"
)

func newDriver(t *testing.T, sdk fps.SDK, opts Options) *Driver {
	t.Helper()
	if opts.PortName == "" {
		opts.PortName = "FPS1"
	}
	if opts.Logger == nil {
		opts.Logger, _ = testLogger()
	}
	d := New(sdk, opts)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func index(t *testing.T, d *Driver, name string) int {
	t.Helper()
	idx, err := d.Find(name)
	require.NoError(t, err)
	return idx
}

func TestRegistersSixParameters(t *testing.T) {
	d := newDriver(t, sim.New(sim.Options{}), Options{})

	want := []string{ParamAdjust, ParamAlign, ParamAxisValid, ParamAxisSignalWeak, ParamGetPosition, ParamReset}
	require.Equal(t, len(want), d.Params().Count())
	for i, name := range want {
		got, ok := d.Params().Name(i)
		assert.True(t, ok)
		assert.Equal(t, name, got)
	}
	typ, _ := d.Params().TypeOf(index(t, d, ParamGetPosition))
	assert.Equal(t, param.Float64, typ)
	assert.Equal(t, 3, d.Params().MaxAddr())
}

func TestReadAxisValidAtAddressOne(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)
	m.On("AxisStatus", uint(0), fps.Axis1).Return(true, false, fps.Ok).Once()

	d := newDriver(t, m, Options{})
	ctx := context.Background()

	v, ts, err := d.ReadInt32(ctx, index(t, d, ParamAxisValid), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
	assert.False(t, ts.IsZero())

	weak, err := d.Params().GetInteger(1, index(t, d, ParamAxisSignalWeak))
	require.NoError(t, err)
	assert.Equal(t, int32(0), weak)

	// the pass-through read of the second entry does not touch the device
	v, _, err = d.ReadInt32(ctx, index(t, d, ParamAxisSignalWeak), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), v)

	// other addresses are untouched
	_, err = d.Params().GetInteger(0, index(t, d, ParamAxisValid))
	assert.ErrorIs(t, err, param.ErrUndefined)
	m.AssertExpectations(t)
}

func TestResetDeviceLockedStillCaches(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)
	m.On("ResetAxis", uint(0), fps.Axis2).Return(fps.DeviceLocked).Once()

	logger, logs := testLogger()
	d := newDriver(t, m, Options{Logger: logger})

	var updates []param.Update
	d.Subscribe(func(u param.Update) { updates = append(updates, u) })

	reset := index(t, d, ParamReset)
	err := d.WriteInt32(context.Background(), reset, 2, 0)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "Device is already in use by other")

	v, err := d.Params().GetInteger(2, reset)
	require.NoError(t, err)
	assert.Equal(t, int32(0), v)

	require.Len(t, updates, 1)
	assert.Equal(t, param.Update{Addr: 2, Index: reset, Name: ParamReset, Type: param.Int32, Int: 0, Time: updates[0].Time}, updates[0])
	m.AssertExpectations(t)
}

func TestResetThenReadBack(t *testing.T) {
	c := &clock{t: time.Unix(1700000000, 0)}
	sdk := newSim(c, sim.Device{
		ID:        5,
		Address:   "USB",
		Positions: [fps.AxisCount]float64{10, 2500.5, -40},
	})
	d := newDriver(t, sdk, Options{})
	ctx := context.Background()
	getPosition := index(t, d, ParamGetPosition)

	c.Advance(2 * time.Minute)
	sdk.SetSignalError(0, fps.Axis1, true)

	pos, _, err := d.ReadFloat64(ctx, getPosition, 1)
	require.NoError(t, err)
	assert.Equal(t, 2500.5, pos)

	_, _, err = d.ReadInt32(ctx, index(t, d, ParamAxisValid), 1)
	require.NoError(t, err)
	weak, _ := d.Params().GetInteger(1, index(t, d, ParamAxisSignalWeak))
	assert.Equal(t, int32(1), weak)

	require.NoError(t, d.WriteInt32(ctx, index(t, d, ParamReset), 1, 1))

	pos, _, err = d.ReadFloat64(ctx, getPosition, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos)

	_, _, err = d.ReadInt32(ctx, index(t, d, ParamAxisValid), 1)
	require.NoError(t, err)
	weak, _ = d.Params().GetInteger(1, index(t, d, ParamAxisSignalWeak))
	assert.Equal(t, int32(0), weak)

	// other axes keep their position
	pos, _, err = d.ReadFloat64(ctx, getPosition, 2)
	require.NoError(t, err)
	assert.Equal(t, -40.0, pos)
}

func TestGetPositionBadAxis(t *testing.T) {
	d := newDriver(t, sim.New(sim.Options{}), Options{})
	getPosition := index(t, d, ParamGetPosition)

	var (
		err error
		v   float64
	)
	require.NotPanics(t, func() {
		v, _, err = d.ReadFloat64(context.Background(), getPosition, 3)
	})
	require.Error(t, err)
	assert.Equal(t, 0.0, v)

	assert.True(t, errors.Is(err, fps.ErrNoAxis))
	assert.True(t, errors.Is(err, param.ErrBadAddress))
	assert.Equal(t, "fpsDriver:readFloat64: status=3, function=4, value=0.000000", err.Error())

	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, param.BadAddress, derr.Status)
	assert.Equal(t, fps.NoAxis, fps.StatusOf(derr.Vendor))
}

func TestReadUndefinedPassThrough(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)
	d := newDriver(t, m, Options{})

	_, _, err := d.ReadInt32(context.Background(), index(t, d, ParamReset), 0)
	require.Error(t, err)
	assert.Equal(t, "fpsDriver:readInt32: status=10, function=5, value=0", err.Error())
	assert.ErrorIs(t, err, param.ErrUndefined)
	assert.False(t, errors.Is(err, fps.ErrNoAxis))

	_, _, err = d.ReadInt32(context.Background(), 42, 0)
	assert.ErrorIs(t, err, param.ErrBadIndex)

	_, _, err = d.ReadFloat64(context.Background(), index(t, d, ParamReset), 0)
	assert.ErrorIs(t, err, param.ErrWrongType)

	// no hardware calls beyond startup
	m.AssertExpectations(t)
	m.AssertNotCalled(t, "DeviceStatus", mock.Anything)
}

func TestHardwareFailureReturnsStaleValue(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)
	m.On("Position", uint(0), fps.Axis0).Return(12.5, fps.Ok).Once()
	m.On("Position", uint(0), fps.Axis0).Return(0.0, fps.Timeout).Once()

	d := newDriver(t, m, Options{})
	getPosition := index(t, d, ParamGetPosition)

	v, _, err := d.ReadFloat64(context.Background(), getPosition, 0)
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	v, _, err = d.ReadFloat64(context.Background(), getPosition, 0)
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)
	m.AssertExpectations(t)
}

func TestAdjustAndAlignUpdatedTogether(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)
	sdk := &flippingSDK{mockSDK: m}

	d := newDriver(t, sdk, Options{})
	adjust := index(t, d, ParamAdjust)
	align := index(t, d, ParamAlign)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _, _ = d.ReadInt32(ctx, adjust, 0)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		snap, err := d.Params().Snapshot(0)
		require.NoError(t, err)
		values := map[int]int32{}
		for _, u := range snap {
			values[u.Index] = u.Int
		}
		a, okA := values[adjust]
		b, okB := values[align]
		require.Equal(t, okA, okB, "adjust and align must be defined together")
		require.Equal(t, a, b, "adjust and align must come from the same status read")
	}
}

// flippingSDK answers DeviceStatus with (x, x) where x alternates. Only
// the driver worker calls it.
type flippingSDK struct {
	*mockSDK
	n int
}

func (f *flippingSDK) DeviceStatus(uint) (bool, bool, fps.Status) {
	f.n++
	v := f.n%2 == 1
	return v, v, fps.Ok
}

func TestTraceOutput(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)
	m.On("ResetAxis", uint(0), fps.Axis0).Return(fps.Ok)

	logger, logs := testLogger()
	d := newDriver(t, m, Options{Logger: logger, Trace: false})
	reset := index(t, d, ParamReset)
	ctx := context.Background()

	require.NoError(t, d.WriteInt32(ctx, reset, 0, 3))
	assert.NotContains(t, logs.String(), "fpsDriver:writeInt32: function=5, value=3")

	d.SetTrace(true)
	assert.True(t, d.Trace())
	require.NoError(t, d.WriteInt32(ctx, reset, 0, 3))
	assert.Contains(t, logs.String(), "fpsDriver:writeInt32: function=5, value=3")

	_, _, err := d.ReadInt32(ctx, reset, 0)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "fpsDriver:readInt32: function=5, value=3")
}

func TestRecorderCapturesRequests(t *testing.T) {
	rec := &recorder{}
	d := newDriver(t, sim.New(sim.Options{}), Options{Recorder: rec})
	ctx := context.Background()

	require.NoError(t, d.WriteInt32(ctx, index(t, d, ParamReset), 2, 0))
	_, _, err := d.ReadFloat64(ctx, index(t, d, ParamGetPosition), 7)
	require.Error(t, err)

	records := rec.all()
	require.Len(t, records, 2)

	assert.Equal(t, trace.OpWriteInt32, records[0].Op)
	assert.Equal(t, "FPS1", records[0].Port)
	assert.Equal(t, ParamReset, records[0].Param)
	assert.Equal(t, 2, records[0].Addr)
	assert.Zero(t, records[0].Status)

	assert.Equal(t, trace.OpReadFloat64, records[1].Op)
	assert.Equal(t, int(param.BadAddress), records[1].Status)
	assert.Equal(t, int(fps.NoAxis), records[1].Vendor)
	assert.NotEmpty(t, records[1].Error)
}

func TestContextHonouredOnlyWhileQueued(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)

	release := make(chan struct{})
	started := make(chan struct{})
	m.On("Position", uint(0), fps.Axis0).Return(1.5, fps.Ok).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Once()

	d := newDriver(t, m, Options{})
	getPosition := index(t, d, ParamGetPosition)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, _, err := d.ReadFloat64(ctx, getPosition, 0)
		result <- err
	}()
	<-started

	// the running request ignores cancellation; a queued one gives up
	cancel()
	_, _, err := d.ReadInt32(ctx, index(t, d, ParamReset), 0)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.NoError(t, <-result)
}

func TestCloseDisconnectsOnce(t *testing.T) {
	m := &mockSDK{}
	expectStartup(m)
	m.On("Disconnect", uint(0)).Return(fps.Ok).Once()

	d := New(m, Options{PortName: "FPS1"})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, _, err := d.ReadInt32(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.WriteInt32(context.Background(), 5, 0, 1), ErrClosed)
	assert.Equal(t, Disconnected, d.Session().State())
	m.AssertNumberOfCalls(t, "Disconnect", 1)
}

func TestReport(t *testing.T) {
	d := newDriver(t, sim.New(sim.Options{}), Options{PortName: "FPS7"})
	ctx := context.Background()
	require.NoError(t, d.WriteInt32(ctx, index(t, d, ParamReset), 1, 1))

	var buf bytes.Buffer
	require.NoError(t, d.Report(ctx, &buf, 0))
	out := buf.String()
	assert.Contains(t, out, "Port: FPS7, driver fpsDriver, device 0, state AdjustingAfterConnect")
	assert.Contains(t, out, "discover=Ok connect=Ok adjust=Ok")
	assert.NotContains(t, out, "features")

	buf.Reset()
	require.NoError(t, d.Report(ctx, &buf, 2))
	out = buf.String()
	assert.Contains(t, out, "id=1001 address=USB connected=true")
	assert.Contains(t, out, "features=ECU")
	assert.Contains(t, out, "averaging: 80/80/80 ns")
	assert.Contains(t, out, "addr 1 reset")
}

func TestPosAverageAppliedAfterConnect(t *testing.T) {
	sdk := sim.New(sim.Options{})
	d := newDriver(t, sdk, Options{PosAverage: 640 * time.Nanosecond})
	assert.Equal(t, fps.AxisCount, sdk.Calls(sim.OpSetPosAverage))

	var buf bytes.Buffer
	require.NoError(t, d.Report(context.Background(), &buf, 1))
	assert.Contains(t, buf.String(), "averaging: 640/640/640 ns")

	// not applied without a connection
	failed := sim.New(sim.Options{})
	failed.Force(sim.OpConnect, fps.DeviceLocked)
	newDriver(t, failed, Options{PosAverage: 640 * time.Nanosecond})
	assert.Zero(t, failed.Calls(sim.OpSetPosAverage))
}

func TestPollerPublishesUpdates(t *testing.T) {
	sdk := sim.New(sim.Options{Devices: []sim.Device{{
		ID:      9,
		Address: "USB",
		Drift:   [fps.AxisCount]float64{1e6, 1e6, 1e6},
	}}})
	d := newDriver(t, sdk, Options{PollInterval: 5 * time.Millisecond})

	var mu sync.Mutex
	seen := map[int]bool{}
	d.Subscribe(func(u param.Update) {
		if u.Name == ParamGetPosition {
			mu.Lock()
			seen[u.Addr] = true
			mu.Unlock()
		}
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[0] && seen[1] && seen[2]
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, sdk.Calls(sim.OpPosition))
	assert.Positive(t, sdk.Calls(sim.OpPositions))
}

func TestPollSkippedWhileWorkerBusy(t *testing.T) {
	sdk := sim.New(sim.Options{})
	d := newDriver(t, sdk, Options{PollInterval: time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = d.do(context.Background(), func() {
			close(started)
			<-release
		})
	}()
	<-started
	before := sdk.Calls(sim.OpPositions)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, sdk.Calls(sim.OpPositions))

	close(release)
	require.Eventually(t, func() bool {
		return sdk.Calls(sim.OpPositions) > before
	}, 2*time.Second, time.Millisecond)
}
