package shell

import (
	"context"
	"fmt"
	"io"

	"github.com/ssrf-beamline/fpsioc/internal/command"
	"github.com/ssrf-beamline/fpsioc/internal/fps"
)

// Controller is what the fps commands need from the orchestrator.
type Controller interface {
	Configure(ctx context.Context, port string, devNo int) error
	Read(ctx context.Context, port, name string, addr int) (command.Reading, error)
	Write(ctx context.Context, port, name string, addr int, value int32) error
	Report(ctx context.Context, w io.Writer, port string, level int) error
	SetTrace(ctx context.Context, port string, on bool) error
}

var _ Controller = (*command.Orchestrator)(nil)

// RegisterFPS adds the fps commands. onDebug, if set, is called by
// fpsDebug after the trace flag of every port has been changed.
func RegisterFPS(s *Shell, ctl Controller, onDebug func(on bool)) error {
	configure := FuncDef{
		Name: "fpsConfigure",
		Help: "create a port bound to the device with sequence number devNo",
		Args: []Arg{{Name: "portName", Type: String}, {Name: "devNo", Type: Int}},
	}
	cmds := []struct {
		def FuncDef
		h   Handler
	}{
		{configure, func(ctx context.Context, out io.Writer, a Args) error {
			if err := ctl.Configure(ctx, a.String(0), a.Int(1)); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: configured device %d\n", a.String(0), a.Int(1))
			return nil
		}},
		{FuncDef{
			Name: "fpsReport",
			Help: "print port status; level 1 adds device information",
			Args: []Arg{{Name: "port", Type: String, Optional: true}, {Name: "level", Type: Int, Optional: true}},
		}, func(ctx context.Context, out io.Writer, a Args) error {
			return ctl.Report(ctx, out, a.String(0), a.Int(1))
		}},
		{FuncDef{
			Name: "fpsRead",
			Help: "read a parameter",
			Args: []Arg{{Name: "port", Type: String}, {Name: "param", Type: String}, {Name: "addr", Type: Int}},
		}, func(ctx context.Context, out io.Writer, a Args) error {
			r, err := ctl.Read(ctx, a.String(0), a.String(1), a.Int(2))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s[%d] = %v (%s)\n", r.Port, r.Param, r.Addr, r.Value, r.Time.Format("2006-01-02 15:04:05.000"))
			return nil
		}},
		{FuncDef{
			Name: "fpsWrite",
			Help: "write an integer parameter",
			Args: []Arg{{Name: "port", Type: String}, {Name: "param", Type: String}, {Name: "addr", Type: Int}, {Name: "value", Type: Int}},
		}, func(ctx context.Context, _ io.Writer, a Args) error {
			return ctl.Write(ctx, a.String(0), a.String(1), a.Int(2), int32(a.Int(3)))
		}},
		{FuncDef{
			Name: "fpsStatus",
			Help: "print the description of a vendor status code",
			Args: []Arg{{Name: "code", Type: Int}},
		}, func(_ context.Context, out io.Writer, a Args) error {
			fps.PrintStatus(out, fps.Status(a.Int(0)))
			return nil
		}},
		{FuncDef{
			Name: "fpsDebug",
			Help: "enable (1) or disable (0) trace output on all ports",
			Args: []Arg{{Name: "on", Type: Int}},
		}, func(ctx context.Context, out io.Writer, a Args) error {
			on := a.Int(0) != 0
			if err := ctl.SetTrace(ctx, "", on); err != nil {
				return err
			}
			if onDebug != nil {
				onDebug(on)
			}
			fmt.Fprintf(out, "fps debug %d\n", boolInt(on))
			return nil
		}},
	}

	for _, c := range cmds {
		if err := s.Register(c.def, c.h); err != nil {
			return err
		}
	}
	// name used by existing startup scripts
	return s.Alias("blcfpsConfigure", configure.Name)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
