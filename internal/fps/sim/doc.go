// Package sim provides an in-memory FPS3010 control library.
//
// It behaves like the vendor library closely enough to run the driver
// without hardware: devices must be discovered before use, a connected
// device is locked against a second connect, the adjustment procedure runs
// for a fixed time and cannot be interrupted, and invalid device or axis
// numbers are answered with NoDevice and NoAxis. Status codes can be forced
// per operation for failure injection.
package sim
