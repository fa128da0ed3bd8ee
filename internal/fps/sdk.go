package fps

import (
	"fmt"
	"strings"
)

// InterfaceType is a mask of the physical interfaces searched by Discover.
type InterfaceType int

const (
	IfNone InterfaceType = 0x00
	IfUsb  InterfaceType = 0x01
	IfTcp  InterfaceType = 0x02
	IfAll  InterfaceType = 0x03
)

// ParseInterfaces converts a configuration value (usb, tcp, all) into a mask.
func ParseInterfaces(s string) (InterfaceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "usb":
		return IfUsb, nil
	case "tcp", "lan", "ethernet":
		return IfTcp, nil
	case "", "all":
		return IfAll, nil
	default:
		return IfNone, fmt.Errorf("unknown interface %q, must be one of usb, tcp, all", s)
	}
}

func (i InterfaceType) String() string {
	switch i {
	case IfNone:
		return "none"
	case IfUsb:
		return "usb"
	case IfTcp:
		return "tcp"
	case IfAll:
		return "all"
	default:
		return fmt.Sprintf("InterfaceType(%#x)", int(i))
	}
}

// Feature is a bit of the optional feature set reported by DeviceConfig.
type Feature int

const (
	FeatureSync   Feature = 0x01 // ethernet enabled
	FeatureAngle  Feature = 0x02 // angular measurement
	FeatureMarker Feature = 0x04 // digital data-marker inputs
	FeatureEcu    Feature = 0x08 // environmental compensation unit
)

// Has reports whether all bits of f are set.
func (f Feature) Has(flag Feature) bool {
	return f&flag == flag
}

func (f Feature) String() string {
	var names []string
	for _, n := range []struct {
		flag Feature
		name string
	}{
		{FeatureSync, "Sync"},
		{FeatureAngle, "Angle"},
		{FeatureMarker, "Marker"},
		{FeatureEcu, "ECU"},
	} {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseFeature converts a feature name (sync, angle, marker, ecu) to its flag.
func ParseFeature(s string) (Feature, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sync":
		return FeatureSync, nil
	case "angle":
		return FeatureAngle, nil
	case "marker", "datamarker":
		return FeatureMarker, nil
	case "ecu":
		return FeatureEcu, nil
	default:
		return 0, fmt.Errorf("unknown feature %q", s)
	}
}

// DeviceInfo is what the library knows about a discovered device.
type DeviceInfo struct {
	ID        int    `json:"id"`
	Address   string `json:"address"` // dotted IP or "USB"
	Connected bool   `json:"connected"`
}

// DeviceConfig is the static configuration of a connected device.
type DeviceConfig struct {
	AxisCount int     `json:"axisCount"`
	Features  Feature `json:"features"`
}

// EcuData holds the environmental sensor readings. Defaults are reported
// when the ECU option is absent: 0 for the sensors and 1 for the index.
type EcuData struct {
	Temperature     float64 `json:"temperature"`     // degree centigrade
	Pressure        float64 `json:"pressure"`        // Pa
	Humidity        float64 `json:"humidity"`        // percent
	RefractiveIndex float64 `json:"refractiveIndex"` // computed from the above
}

// SDK is the FPS3010 control library. Devices are addressed by the sequence
// number assigned during Discover. Implementations are not required to be
// safe for concurrent use; see Serialized.
type SDK interface {
	// Discover searches the given interfaces and returns the number of
	// devices found. It must not be called while any device is connected.
	Discover(ifaces InterfaceType) (uint, Status)

	// DeviceInfo is available after Discover, connected or not.
	DeviceInfo(devNo uint) (DeviceInfo, Status)

	Connect(devNo uint) Status
	Disconnect(devNo uint) Status

	DeviceConfig(devNo uint) (DeviceConfig, Status)

	// DeviceStatus reports whether the adjustment procedure is running
	// and whether the device is in alignment mode.
	DeviceStatus(devNo uint) (adjust, align bool, st Status)

	// AxisStatus reports whether the axis is aligned and whether the
	// signal quality is insufficient.
	AxisStatus(devNo uint, axis Axis) (valid, signalError bool, st Status)

	EcuData(devNo uint) (EcuData, Status)

	// StartAdjustment starts the internal adjustment procedure. It runs
	// for about one minute and cannot be interrupted.
	StartAdjustment(devNo uint) Status

	// ResetAxis sets the position of an axis to 0 and clears its error flag.
	ResetAxis(devNo uint, axis Axis) Status

	// Position returns the measured position of an axis in nm.
	Position(devNo uint, axis Axis) (float64, Status)
	Positions(devNo uint) ([AxisCount]float64, Status)

	// SetPosAverage sets the averaging time in ns; the device quantizes it.
	SetPosAverage(devNo uint, axis Axis, ns uint) Status
	PosAverage(devNo uint, axis Axis) (uint, Status)
}
