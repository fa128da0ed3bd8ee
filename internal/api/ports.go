package api

import (
	"context"
	"io"
	"net/http"

	"github.com/ssrf-beamline/fpsioc/internal/command"
	"github.com/ssrf-beamline/fpsioc/internal/driver"
	"github.com/ssrf-beamline/fpsioc/internal/param"
	"github.com/ssrf-beamline/fpsioc/internal/telemetry"
)

// OrchestratorPort defines the minimal interface the API needs from the orchestrator.
type OrchestratorPort interface {
	Ports() []driver.PortStatus
	Port(name string) (driver.PortStatus, error)
	Params(port string) ([]command.ParamInfo, error)
	Configure(ctx context.Context, port string, devNo int) error
	Read(ctx context.Context, port, name string, addr int) (command.Reading, error)
	Write(ctx context.Context, port, name string, addr int, value int32) error
	Report(ctx context.Context, w io.Writer, port string, level int) error
	SetTrace(ctx context.Context, port string, on bool) error
	Watch(port string, fn func(param.Update)) (cancel func(), err error)
}

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	Clients() int
}

var (
	_ OrchestratorPort = (*command.Orchestrator)(nil)
	_ TelemetryPort    = (*telemetry.Hub)(nil)
)
