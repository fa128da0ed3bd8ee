// Package driver connects FPS3010 devices to parameter-based clients.
//
// A Session owns the connection to one device. A Driver registers the six
// port parameters (adjust, align, axisValid, axisSignalWeak, getPosition,
// reset) on three addresses, one per axis, and answers generic readInt32,
// writeInt32 and readFloat64 requests by calling the session and storing
// the results in its parameter library. A Manager holds the drivers of a
// process by port name.
//
// Hardware failures are logged through the vendor status texts and never
// abort construction. Only parameter lookups that cannot be answered are
// returned to the caller, as *Error.
package driver
