//go:build !(cgo && fps3010)

package libfps

import "github.com/ssrf-beamline/fpsioc/internal/fps"

// Library is unavailable in this build.
type Library struct{ fps.SDK }

// New always fails with ErrUnavailable.
func New() (*Library, error) {
	return nil, ErrUnavailable
}
