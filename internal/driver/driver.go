package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
	"github.com/ssrf-beamline/fpsioc/internal/param"
	"github.com/ssrf-beamline/fpsioc/internal/trace"
)

// Name prefixes every error message and trace line of the driver.
const Name = "fpsDriver"

// MaxAddr is the number of parameter addresses, one per axis.
const MaxAddr = fps.AxisCount

// Parameter names registered by every driver, in index order.
const (
	ParamAdjust         = "adjust"
	ParamAlign          = "align"
	ParamAxisValid      = "axisValid"
	ParamAxisSignalWeak = "axisSignalWeak"
	ParamGetPosition    = "getPosition"
	ParamReset          = "reset"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("driver closed")

// Options configures a Driver.
type Options struct {
	PortName   string
	DevNo      int
	Interfaces fps.InterfaceType
	// PosAverage is applied to every axis after connecting when non-zero.
	PosAverage time.Duration
	// Trace enables trace-level lines for successful requests.
	Trace bool
	// PollInterval refreshes every parameter and runs callbacks for every
	// address periodically. Zero disables polling.
	PollInterval time.Duration
	Logger       *slog.Logger
	// Recorder receives one record per request, if set.
	Recorder Recorder
}

// Driver dispatches generic parameter requests for one port to its device
// session. Every hardware call and the cache updates it causes run on a
// single worker goroutine.
type Driver struct {
	port     string
	session  *Session
	params   *param.List
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	adjust, align, axisValid, axisSignalWeak, getPosition, reset int

	trace atomic.Bool

	requests  chan func()
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New opens the device session and starts the worker. Construction never
// fails because of the hardware; the outcome is available from Startup.
func New(sdk fps.SDK, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("port", opts.PortName)

	d := &Driver{
		port:     opts.PortName,
		logger:   logger,
		recorder: opts.Recorder,
		now:      time.Now,
		params:   param.New(MaxAddr),
		requests: make(chan func()),
		stop:     make(chan struct{}),
	}
	d.trace.Store(opts.Trace)

	d.session = Open(sdk, opts.DevNo, opts.Interfaces, logger)
	if opts.PosAverage > 0 && d.session.State() != Disconnected {
		d.session.SetPosAverage(uint(opts.PosAverage.Nanoseconds()))
	}

	for _, p := range []struct {
		name string
		typ  param.Type
		idx  *int
	}{
		{ParamAdjust, param.Int32, &d.adjust},
		{ParamAlign, param.Int32, &d.align},
		{ParamAxisValid, param.Int32, &d.axisValid},
		{ParamAxisSignalWeak, param.Int32, &d.axisSignalWeak},
		{ParamGetPosition, param.Float64, &d.getPosition},
		{ParamReset, param.Int32, &d.reset},
	} {
		// names are unique and types valid, Create cannot fail here
		*p.idx, _ = d.params.Create(p.name, p.typ)
	}

	d.wg.Add(1)
	go d.worker()

	if opts.PollInterval > 0 {
		d.wg.Add(1)
		go d.poller(opts.PollInterval)
	}
	return d
}

func (d *Driver) worker() {
	defer d.wg.Done()
	for {
		select {
		case fn := <-d.requests:
			fn()
		case <-d.stop:
			return
		}
	}
}

func (d *Driver) poller(interval time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// a tick that finds the worker busy is skipped
			select {
			case d.requests <- d.poll:
			case <-d.stop:
				return
			default:
			}
		case <-d.stop:
			return
		}
	}
}

// poll refreshes all hardware-backed parameters. Runs on the worker.
func (d *Driver) poll() {
	if ds, st := d.session.ReadDeviceStatus(); st == fps.Ok {
		d.setDeviceStatus(0, ds)
	}
	pos, posStatus := d.session.ReadPositions()
	for _, axis := range fps.Axes() {
		addr := int(axis)
		if as, st := d.session.ReadAxisStatus(axis); st == fps.Ok {
			d.setAxisStatus(addr, as)
		}
		if posStatus == fps.Ok {
			_ = d.params.SetDouble(addr, d.getPosition, pos[axis])
		}
		_ = d.params.CallCallbacks(addr)
	}
}

// do runs fn on the worker and waits for it. The context is honoured only
// until fn has been accepted.
func (d *Driver) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return ErrClosed
	}
	<-done
	return nil
}

// Port returns the port name.
func (d *Driver) Port() string { return d.port }

// Session returns the device session.
func (d *Driver) Session() *Session { return d.session }

// Params returns the parameter library. Writes must go through the
// dispatch methods.
func (d *Driver) Params() *param.List { return d.params }

// Find returns the index of a parameter by name.
func (d *Driver) Find(name string) (int, error) { return d.params.Find(name) }

// Subscribe registers fn for parameter callbacks.
func (d *Driver) Subscribe(fn func(param.Update)) (cancel func()) {
	return d.params.Subscribe(fn)
}

// SetTrace toggles trace output for successful requests.
func (d *Driver) SetTrace(on bool) { d.trace.Store(on) }

// Trace reports whether trace output is enabled.
func (d *Driver) Trace() bool { return d.trace.Load() }

// PortStatus is the listing entry of a port.
type PortStatus struct {
	Port    string  `json:"port"`
	DevNo   int     `json:"devNo"`
	State   string  `json:"state"`
	Startup Startup `json:"startup"`
	Trace   bool    `json:"trace"`
}

// Status returns the port's listing entry without touching the device.
func (d *Driver) Status() PortStatus {
	return PortStatus{
		Port:    d.port,
		DevNo:   d.session.DevNo(),
		State:   d.session.State().String(),
		Startup: d.session.Startup(),
		Trace:   d.Trace(),
	}
}

func (d *Driver) setDeviceStatus(addr int, ds DeviceStatus) {
	_ = d.params.SetIntegers(addr, map[int]int32{
		d.adjust: boolInt(ds.Adjusting),
		d.align:  boolInt(ds.Aligning),
	})
}

func (d *Driver) setAxisStatus(addr int, as AxisStatus) {
	_ = d.params.SetIntegers(addr, map[int]int32{
		d.axisValid:      boolInt(as.Valid),
		d.axisSignalWeak: boolInt(as.SignalWeak),
	})
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// ReadInt32 returns the cached integer at (addr, reason), refreshing the
// adjust/align pair or the axisValid/axisSignalWeak pair from the device
// first when reason selects one of them. The returned time is taken when
// the request starts executing.
func (d *Driver) ReadInt32(ctx context.Context, reason, addr int) (int32, time.Time, error) {
	var (
		value int32
		ts    time.Time
		err   error
	)
	if qerr := d.do(ctx, func() {
		ts = d.now()
		vendor := fps.Ok

		switch reason {
		case d.adjust:
			var ds DeviceStatus
			if ds, vendor = d.session.ReadDeviceStatus(); vendor == fps.Ok {
				d.setDeviceStatus(addr, ds)
			}
		case d.axisValid:
			var as AxisStatus
			if as, vendor = d.session.ReadAxisStatus(fps.Axis(addr)); vendor == fps.Ok {
				d.setAxisStatus(addr, as)
			}
		}

		var perr error
		value, perr = d.params.GetInteger(addr, reason)
		err = d.finish(trace.OpReadInt32, "readInt32", ts, reason, addr, intValue(value), perr, vendor)
	}); qerr != nil {
		return 0, time.Time{}, qerr
	}
	return value, ts, err
}

// WriteInt32 stores value at (addr, reason) and runs callbacks for addr.
// For reset the axis is reset first; its status is logged, not returned.
func (d *Driver) WriteInt32(ctx context.Context, reason, addr int, value int32) error {
	var err error
	if qerr := d.do(ctx, func() {
		ts := d.now()
		vendor := fps.Ok

		if reason == d.reset {
			vendor = d.session.ResetAxis(fps.Axis(addr))
		}

		perr := d.params.SetInteger(addr, reason, value)
		if cerr := d.params.CallCallbacks(addr); perr == nil {
			perr = cerr
		}
		err = d.finish(trace.OpWriteInt32, "writeInt32", ts, reason, addr, intValue(value), perr, vendor)
	}); qerr != nil {
		return qerr
	}
	return err
}

// ReadFloat64 returns the cached float at (addr, reason), reading the axis
// position first when reason is getPosition.
func (d *Driver) ReadFloat64(ctx context.Context, reason, addr int) (float64, time.Time, error) {
	var (
		value float64
		ts    time.Time
		err   error
	)
	if qerr := d.do(ctx, func() {
		ts = d.now()
		vendor := fps.Ok

		if reason == d.getPosition {
			var pos float64
			if pos, vendor = d.session.ReadPosition(fps.Axis(addr)); vendor == fps.Ok {
				_ = d.params.SetDouble(addr, d.getPosition, pos)
			}
		}

		var perr error
		value, perr = d.params.GetDouble(addr, reason)
		err = d.finish(trace.OpReadFloat64, "readFloat64", ts, reason, addr, floatValue(value), perr, vendor)
	}); qerr != nil {
		return 0, time.Time{}, qerr
	}
	return value, ts, err
}

type reqValue struct {
	isFloat bool
	i       int32
	f       float64
}

func intValue(v int32) reqValue     { return reqValue{i: v} }
func floatValue(v float64) reqValue { return reqValue{isFloat: true, f: v} }

func (v reqValue) String() string {
	if v.isFloat {
		return fmt.Sprintf("%f", v.f)
	}
	return fmt.Sprintf("%d", v.i)
}

// finish logs, records and builds the result of one request. Runs on the
// worker.
func (d *Driver) finish(op trace.Op, function string, ts time.Time, reason, addr int, v reqValue, perr error, vendor fps.Status) error {
	var err *Error
	if perr != nil {
		err = &Error{
			Driver:   Name,
			Function: function,
			Status:   param.StatusOf(perr),
			Reason:   reason,
			Value:    v.String(),
			Err:      perr,
		}
		if vendor != fps.Ok {
			err.Vendor = vendor.OpErr(function)
		}
		d.logger.Debug(err.Error(), "addr", addr)
	} else if d.trace.Load() {
		d.logger.Debug(fmt.Sprintf("%s:%s: function=%d, value=%s", Name, function, reason, v), "addr", addr)
	}

	if d.recorder != nil {
		name, _ := d.params.Name(reason)
		rec := trace.Record{
			Time:     ts,
			Port:     d.port,
			Op:       op,
			Reason:   reason,
			Param:    name,
			Addr:     addr,
			Int:      v.i,
			Float:    v.f,
			Vendor:   int(vendor),
			Duration: d.now().Sub(ts),
		}
		if err != nil {
			rec.Status = int(err.Status)
			rec.Error = err.Error()
		}
		if rerr := d.recorder.Record(rec); rerr != nil {
			d.logger.Warn("trace capture failed", "error", rerr)
		}
	}

	if err == nil {
		return nil
	}
	return err
}

// Report writes a description of the port. Level 1 adds device
// information read from the hardware, level 2 the cached parameters.
func (d *Driver) Report(ctx context.Context, w io.Writer, level int) error {
	st := d.session.Startup()
	fmt.Fprintf(w, "Port: %s, driver %s, device %d, state %s\n", d.port, Name, d.session.DevNo(), d.session.State())
	fmt.Fprintf(w, "  startup: devices=%d discover=%s connect=%s adjust=%s\n",
		st.Devices, st.Discover, st.Connect, st.Adjust)
	fmt.Fprintf(w, "  trace: %t\n", d.Trace())
	if level < 1 {
		return nil
	}

	var (
		info      Info
		status    fps.Status
		averages  [fps.AxisCount]uint
		avgStatus fps.Status
	)
	if err := d.do(ctx, func() {
		info, status = d.session.Info()
		averages, avgStatus = d.session.PosAverages()
	}); err != nil {
		return err
	}
	if status != fps.Ok {
		text, _ := fps.Describe(status)
		fmt.Fprintf(w, "  device info unavailable: %s (%d)\n", text, int(status))
	} else {
		fmt.Fprintf(w, "  id=%d address=%s connected=%t\n", info.Device.ID, info.Device.Address, info.Device.Connected)
		fmt.Fprintf(w, "  axes=%d features=%s\n", info.Config.AxisCount, info.Config.Features)
		fmt.Fprintf(w, "  ecu: T=%.2fC p=%.0fPa h=%.1f%% n=%.6f\n",
			info.Ecu.Temperature, info.Ecu.Pressure, info.Ecu.Humidity, info.Ecu.RefractiveIndex)
	}
	if avgStatus == fps.Ok {
		fmt.Fprintf(w, "  averaging: %d/%d/%d ns\n", averages[0], averages[1], averages[2])
	}
	if level < 2 {
		return nil
	}

	for addr := 0; addr < MaxAddr; addr++ {
		snap, err := d.params.Snapshot(addr)
		if err != nil {
			return err
		}
		for _, u := range snap {
			fmt.Fprintf(w, "  addr %d %-16s %v\n", addr, u.Name, u.Value())
		}
	}
	return nil
}

// Close stops the worker and disconnects the device. Requests waiting to
// be queued fail with ErrClosed.
func (d *Driver) Close() error {
	var st fps.Status
	d.closeOnce.Do(func() {
		close(d.stop)
		d.wg.Wait()
		st = d.session.Close()
	})
	return st.OpErr("FPS_disconnect")
}
