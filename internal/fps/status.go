package fps

import (
	"errors"
	"fmt"
	"io"
)

// Status is a return code of the FPS3010 control library.
type Status int

// Return values of the library functions.
const (
	Ok           Status = 0
	Error        Status = -1
	Timeout      Status = 1
	NotConnected Status = 2
	DriverError  Status = 3
	DeviceLocked Status = 7
	Unknown      Status = 8
	NoDevice     Status = 9
	NoAxis       Status = 10
)

// Sentinel errors matched by StatusError through errors.Is.
var (
	ErrUnspecified  = errors.New("UNSPECIFIED")
	ErrTimeout      = errors.New("TIMEOUT")
	ErrNotConnected = errors.New("NOT_CONNECTED")
	ErrDriver       = errors.New("DRIVER_ERROR")
	ErrDeviceLocked = errors.New("DEVICE_LOCKED")
	ErrUnknown      = errors.New("UNKNOWN")
	ErrNoDevice     = errors.New("NO_DEVICE")
	ErrNoAxis       = errors.New("NO_AXIS")
)

// statusTable holds the operator-facing text for each code. The texts are
// consumed by existing log tooling and must not change, typos included.
var statusTable = map[Status]struct {
	text     string
	name     string
	sentinel error
}{
	Ok:           {"FPS_ OK", "Ok", nil},
	Error:        {"Unspecified error", "Error", ErrUnspecified},
	Timeout:      {"FPS timeout", "Timeout", ErrTimeout},
	NotConnected: {"FPS_NotConnected", "NotConnected", ErrNotConnected},
	DriverError:  {"Error in comunication with driver", "DriverError", ErrDriver},
	DeviceLocked: {"Device is already in use by other", "DeviceLocked", ErrDeviceLocked},
	Unknown:      {"Unknow error", "Unknown", ErrUnknown},
	NoDevice:     {"Invalid device number in function call", "NoDevice", ErrNoDevice},
	NoAxis:       {"Invalid axis number in function call", "NoAxis", ErrNoAxis},
}

// Describe returns the diagnostic text for s. The boolean is false for codes
// outside the vendor enumeration.
func Describe(s Status) (string, bool) {
	entry, ok := statusTable[s]
	if !ok {
		return "", false
	}
	return entry.text, true
}

// PrintStatus writes the diagnostic line for s to w. Unrecognized codes
// produce no output.
func PrintStatus(w io.Writer, s Status) {
	if text, ok := Describe(s); ok {
		fmt.Fprintln(w, text)
	}
}

// String returns the symbolic name of the code.
func (s Status) String() string {
	if entry, ok := statusTable[s]; ok {
		return entry.name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Err returns nil for Ok and a *StatusError otherwise.
func (s Status) Err() error {
	if s == Ok {
		return nil
	}
	return &StatusError{Status: s}
}

// OpErr is like Err but records the library call that returned s.
func (s Status) OpErr(op string) error {
	if s == Ok {
		return nil
	}
	return &StatusError{Op: op, Status: s}
}

// StatusError wraps a non-Ok library status.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	text, ok := Describe(e.Status)
	if !ok {
		text = fmt.Sprintf("unrecognized status %d", int(e.Status))
	}
	if e.Op == "" {
		return text
	}
	return fmt.Sprintf("%s: %s", e.Op, text)
}

// Is reports whether target is the sentinel for this status.
func (e *StatusError) Is(target error) bool {
	entry, ok := statusTable[e.Status]
	if !ok || entry.sentinel == nil {
		return target == ErrUnknown
	}
	return entry.sentinel == target
}

// StatusOf extracts the library status from err. It returns Ok for nil and
// Error for errors that carry no status.
func StatusOf(err error) Status {
	if err == nil {
		return Ok
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return Error
}
