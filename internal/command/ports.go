package command

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/driver"
	"github.com/ssrf-beamline/fpsioc/internal/param"
)

// OrchestratorPort is what the API and the shell need from the orchestrator.
type OrchestratorPort interface {
	Ports() []driver.PortStatus
	Port(name string) (driver.PortStatus, error)
	Params(port string) ([]ParamInfo, error)
	Configure(ctx context.Context, port string, devNo int) error
	Read(ctx context.Context, port, param string, addr int) (Reading, error)
	Write(ctx context.Context, port, param string, addr int, value int32) error
	Report(ctx context.Context, w io.Writer, port string, level int) error
	SetTrace(ctx context.Context, port string, on bool) error
	Watch(port string, fn func(param.Update)) (cancel func(), err error)
}

// PortManager is the port registry the orchestrator routes to.
type PortManager interface {
	Configure(portName string, devNo int) error
	Lookup(portName string) (driver.Port, error)
	Names() []string
	SetTrace(on bool)
}

// AuditLogger records control actions.
type AuditLogger interface {
	LogAction(ctx context.Context, action, port string, params map[string]interface{}, outcome string, latency time.Duration)
}

var (
	_ PortManager      = (*driver.Manager)(nil)
	_ OrchestratorPort = (*Orchestrator)(nil)
)

// ErrNotFound indicates an unknown port or parameter.
var ErrNotFound = errors.New("NOT_FOUND")

// ErrInvalidParameter indicates a structurally invalid request.
var ErrInvalidParameter = errors.New("BAD_REQUEST")
