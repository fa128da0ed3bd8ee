package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/driver"
	"github.com/ssrf-beamline/fpsioc/internal/fps"
	"github.com/ssrf-beamline/fpsioc/internal/param"
)

// Reading is the result of a parameter read.
type Reading struct {
	Port  string      `json:"port"`
	Param string      `json:"param"`
	Addr  int         `json:"addr"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
	Time  time.Time   `json:"ts"`
}

// ParamInfo describes one parameter of a port.
type ParamInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// Orchestrator routes validated requests to the port drivers.
type Orchestrator struct {
	ports   PortManager
	audit   AuditLogger
	timeout time.Duration
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator. timeout bounds the wait for a
// busy port; zero waits for the caller's context only.
func NewOrchestrator(ports PortManager, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ports:   ports,
		timeout: timeout,
		logger:  logger.With("component", "orchestrator"),
	}
}

// SetAuditLogger sets the audit logger.
func (o *Orchestrator) SetAuditLogger(logger AuditLogger) {
	o.audit = logger
}

// Ports lists the configured ports in name order.
func (o *Orchestrator) Ports() []driver.PortStatus {
	names := o.ports.Names()
	out := make([]driver.PortStatus, 0, len(names))
	for _, name := range names {
		p, err := o.ports.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, p.Status())
	}
	return out
}

// Port returns the listing entry of one port.
func (o *Orchestrator) Port(name string) (driver.PortStatus, error) {
	p, err := o.lookup(name)
	if err != nil {
		return driver.PortStatus{}, err
	}
	return p.Status(), nil
}

// Params lists the parameters of a port in index order.
func (o *Orchestrator) Params(port string) ([]ParamInfo, error) {
	p, err := o.lookup(port)
	if err != nil {
		return nil, err
	}
	list := p.Params()
	out := make([]ParamInfo, 0, list.Count())
	for i := 0; i < list.Count(); i++ {
		name, _ := list.Name(i)
		t, _ := list.TypeOf(i)
		out = append(out, ParamInfo{Index: i, Name: name, Type: t.String()})
	}
	return out, nil
}

// Configure creates a port bound to device devNo.
func (o *Orchestrator) Configure(ctx context.Context, port string, devNo int) error {
	start := time.Now()
	var err error
	switch {
	case port == "":
		err = fmt.Errorf("%w: empty port name", ErrInvalidParameter)
	case strings.ContainsAny(port, " \t\n/"):
		err = fmt.Errorf("%w: invalid port name %q", ErrInvalidParameter, port)
	default:
		err = o.ports.Configure(port, devNo)
	}
	o.logAudit(ctx, "configure", port, map[string]interface{}{"device": devNo}, err, time.Since(start))
	return err
}

// Read reads one parameter, choosing the dispatch call from its type.
func (o *Orchestrator) Read(ctx context.Context, port, name string, addr int) (Reading, error) {
	p, reason, typ, err := o.resolve(port, name)
	if err != nil {
		return Reading{}, err
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	r := Reading{Port: port, Param: name, Addr: addr, Type: typ.String()}
	switch typ {
	case param.Int32:
		var v int32
		v, r.Time, err = p.ReadInt32(ctx, reason, addr)
		r.Value = v
	case param.Float64:
		var v float64
		v, r.Time, err = p.ReadFloat64(ctx, reason, addr)
		r.Value = v
	default:
		return Reading{}, fmt.Errorf("%w: parameter %s has type %s", ErrInvalidParameter, name, typ)
	}
	return r, err
}

// Write writes an integer parameter. Float parameters are read-only.
func (o *Orchestrator) Write(ctx context.Context, port, name string, addr int, value int32) error {
	start := time.Now()
	args := map[string]interface{}{"param": name, "addr": addr, "value": value}

	p, reason, typ, err := o.resolve(port, name)
	if err == nil && typ != param.Int32 {
		err = fmt.Errorf("%w: parameter %s is %s and cannot be written", ErrInvalidParameter, name, typ)
	}
	if err != nil {
		o.logAudit(ctx, "write", port, args, err, time.Since(start))
		return err
	}

	qctx, cancel := o.withTimeout(ctx)
	defer cancel()

	err = p.WriteInt32(qctx, reason, addr, value)
	o.logAudit(ctx, "write", port, args, err, time.Since(start))
	return err
}

// Report writes the report of one port, or of every port when port is
// empty.
func (o *Orchestrator) Report(ctx context.Context, w io.Writer, port string, level int) error {
	names := []string{port}
	if port == "" {
		names = o.ports.Names()
	}
	for _, name := range names {
		p, err := o.lookup(name)
		if err != nil {
			return err
		}
		rctx, cancel := o.withTimeout(ctx)
		err = p.Report(rctx, w, level)
		cancel()
		if err != nil {
			return fmt.Errorf("report %s: %w", name, err)
		}
	}
	return nil
}

// SetTrace toggles trace output on one port, or on every port when port
// is empty.
func (o *Orchestrator) SetTrace(ctx context.Context, port string, on bool) error {
	start := time.Now()
	var err error
	if port == "" {
		o.ports.SetTrace(on)
	} else {
		var p driver.Port
		if p, err = o.lookup(port); err == nil {
			p.SetTrace(on)
		}
	}
	o.logAudit(ctx, "trace", port, map[string]interface{}{"on": on}, err, time.Since(start))
	return err
}

// Watch registers fn for the parameter callbacks of port.
func (o *Orchestrator) Watch(port string, fn func(param.Update)) (cancel func(), err error) {
	p, err := o.lookup(port)
	if err != nil {
		return nil, err
	}
	return p.Subscribe(fn), nil
}

func (o *Orchestrator) lookup(port string) (driver.Port, error) {
	if port == "" {
		return nil, fmt.Errorf("%w: empty port name", ErrInvalidParameter)
	}
	p, err := o.ports.Lookup(port)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return p, nil
}

func (o *Orchestrator) resolve(port, name string) (driver.Port, int, param.Type, error) {
	p, err := o.lookup(port)
	if err != nil {
		return nil, 0, 0, err
	}
	reason, err := p.Find(name)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %s: %w", ErrNotFound, port, err)
	}
	typ, _ := p.Params().TypeOf(reason)
	return p, reason, typ, nil
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *Orchestrator) logAudit(ctx context.Context, action, port string, args map[string]interface{}, err error, latency time.Duration) {
	code := Code(err)
	if err != nil {
		o.logger.Warn("action failed", "action", action, "port", port, "code", code, "error", err)
	}
	if o.audit != nil {
		o.audit.LogAction(ctx, action, port, args, code, latency)
	}
}

// Code maps an error to the outcome code used in audit records and API
// responses.
func Code(err error) string {
	var vendor *fps.StatusError
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, driver.ErrPortNotFound),
		errors.Is(err, param.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, driver.ErrPortExists),
		errors.Is(err, param.ErrAlreadyExists):
		return "CONFLICT"
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, param.ErrBadAddress),
		errors.Is(err, param.ErrWrongType),
		errors.Is(err, param.ErrBadIndex):
		return "BAD_REQUEST"
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrClosed):
		return "UNAVAILABLE"
	case errors.As(err, &vendor):
		return "DEVICE_ERROR"
	case errors.Is(err, param.ErrUndefined):
		return "UNDEFINED"
	default:
		return "ERROR"
	}
}
