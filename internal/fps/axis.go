package fps

import "fmt"

// AxisCount is the number of measurement channels of an FPS3010.
const AxisCount = 3

// Axis is a measurement channel number. Only 0, 1 and 2 are valid; other
// values can still be passed to the library, which answers with NoAxis.
type Axis int

const (
	Axis0 Axis = iota
	Axis1
	Axis2
)

// Valid reports whether a is one of the three device axes.
func (a Axis) Valid() bool {
	return a >= 0 && a < AxisCount
}

func (a Axis) String() string {
	return fmt.Sprintf("axis%d", int(a))
}

// Axes returns the valid axes in order.
func Axes() []Axis {
	return []Axis{Axis0, Axis1, Axis2}
}
