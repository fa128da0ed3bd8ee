// Package libfps binds the vendor FPS3010 control library.
//
// The binding is compiled only with cgo and the fps3010 build tag, with the
// vendor header and libfps3010 on the compiler and linker search paths.
// Without them New returns ErrUnavailable.
package libfps

import "errors"

// ErrUnavailable is returned by New when the binary was built without the
// vendor library.
var ErrUnavailable = errors.New("libfps: built without the fps3010 vendor library")
