package driver

import (
	"context"
	"io"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/param"
	"github.com/ssrf-beamline/fpsioc/internal/trace"
)

// Recorder captures dispatch requests.
type Recorder interface {
	Record(trace.Record) error
}

// Port is the request surface of one configured port.
type Port interface {
	Port() string
	Status() PortStatus
	Find(name string) (int, error)
	Params() *param.List
	ReadInt32(ctx context.Context, reason, addr int) (int32, time.Time, error)
	WriteInt32(ctx context.Context, reason, addr int, value int32) error
	ReadFloat64(ctx context.Context, reason, addr int) (float64, time.Time, error)
	Report(ctx context.Context, w io.Writer, level int) error
	Subscribe(fn func(param.Update)) (cancel func())
	SetTrace(on bool)
}

var (
	_ Port     = (*Driver)(nil)
	_ Recorder = (*trace.Writer)(nil)
)
