//go:build cgo && fps3010

package libfps

/*
#cgo LDFLAGS: -lfps3010
#include <fps3010.h>
*/
import "C"

import "github.com/ssrf-beamline/fpsioc/internal/fps"

// Library calls the vendor C library. Like the library it is not safe for
// concurrent use; wrap it with fps.Serialized.
type Library struct{}

var _ fps.SDK = (*Library)(nil)

// New returns the vendor library binding.
func New() (*Library, error) {
	return &Library{}, nil
}

func status(rc C.int) fps.Status { return fps.Status(rc) }

func boolOf(b C.bln32) bool { return b != 0 }

func (*Library) Discover(ifaces fps.InterfaceType) (uint, fps.Status) {
	var n C.uint
	rc := C.FPS_discover(C.FPS_InterfaceType(ifaces), &n)
	return uint(n), status(rc)
}

func (*Library) DeviceInfo(devNo uint) (fps.DeviceInfo, fps.Status) {
	var (
		id        C.int
		connected C.bln32
		addr      [32]C.char
	)
	rc := C.FPS_getDeviceInfo(C.uint(devNo), &id, &addr[0], &connected)
	return fps.DeviceInfo{
		ID:        int(id),
		Address:   C.GoString(&addr[0]),
		Connected: boolOf(connected),
	}, status(rc)
}

func (*Library) Connect(devNo uint) fps.Status {
	return status(C.FPS_connect(C.uint(devNo)))
}

func (*Library) Disconnect(devNo uint) fps.Status {
	return status(C.FPS_disconnect(C.uint(devNo)))
}

func (*Library) DeviceConfig(devNo uint) (fps.DeviceConfig, fps.Status) {
	var (
		axes     C.uint
		features C.int
	)
	rc := C.FPS_getDeviceConfig(C.uint(devNo), &axes, &features)
	return fps.DeviceConfig{AxisCount: int(axes), Features: fps.Feature(features)}, status(rc)
}

func (*Library) DeviceStatus(devNo uint) (bool, bool, fps.Status) {
	var adjust, align C.bln32
	rc := C.FPS_getDeviceStatus(C.uint(devNo), &adjust, &align)
	return boolOf(adjust), boolOf(align), status(rc)
}

func (*Library) AxisStatus(devNo uint, axis fps.Axis) (bool, bool, fps.Status) {
	var valid, bad C.bln32
	rc := C.FPS_getAxisStatus(C.uint(devNo), C.uint(axis), &valid, &bad)
	return boolOf(valid), boolOf(bad), status(rc)
}

func (*Library) EcuData(devNo uint) (fps.EcuData, fps.Status) {
	var t, p, h, n C.double
	rc := C.FPS_getEcuData(C.uint(devNo), &t, &p, &h, &n)
	return fps.EcuData{
		Temperature:     float64(t),
		Pressure:        float64(p),
		Humidity:        float64(h),
		RefractiveIndex: float64(n),
	}, status(rc)
}

func (*Library) StartAdjustment(devNo uint) fps.Status {
	return status(C.FPS_startAdjustment(C.uint(devNo)))
}

func (*Library) ResetAxis(devNo uint, axis fps.Axis) fps.Status {
	return status(C.FPS_resetAxis(C.uint(devNo), C.uint(axis)))
}

func (*Library) Position(devNo uint, axis fps.Axis) (float64, fps.Status) {
	var pos C.double
	rc := C.FPS_getPosition(C.uint(devNo), C.uint(axis), &pos)
	return float64(pos), status(rc)
}

func (*Library) Positions(devNo uint) ([fps.AxisCount]float64, fps.Status) {
	var raw [fps.AxisCount]C.double
	rc := C.FPS_getPositions(C.uint(devNo), &raw[0])
	var out [fps.AxisCount]float64
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, status(rc)
}

func (*Library) SetPosAverage(devNo uint, axis fps.Axis, ns uint) fps.Status {
	return status(C.FPS_setPosAverage(C.uint(devNo), C.uint(axis), C.uint(ns)))
}

func (*Library) PosAverage(devNo uint, axis fps.Axis) (uint, fps.Status) {
	var avg C.uint
	rc := C.FPS_getPosAverage(C.uint(devNo), C.uint(axis), &avg)
	return uint(avg), status(rc)
}
