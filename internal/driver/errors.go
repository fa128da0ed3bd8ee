package driver

import (
	"fmt"

	"github.com/ssrf-beamline/fpsioc/internal/param"
)

// Error is returned when a request cannot be answered from the parameter
// library. When the hardware call made for the request failed as well,
// Vendor holds that status and errors.Is matches the fps sentinels.
type Error struct {
	Driver   string
	Function string
	Status   param.Status
	Reason   int
	Value    string
	Err      error
	Vendor   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%s: status=%d, function=%d, value=%s",
		e.Driver, e.Function, int(e.Status), e.Reason, e.Value)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Vendor != nil {
		errs = append(errs, e.Vendor)
	}
	return errs
}
