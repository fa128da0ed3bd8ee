package fps

import "sync"

// Serialized returns an SDK that holds one lock for the duration of every
// call into sdk. The vendor library is not thread safe, so all ports of a
// process must share one Serialized value. Wrapping an already serialized
// SDK returns it unchanged.
func Serialized(sdk SDK) SDK {
	if s, ok := sdk.(*serialSDK); ok {
		return s
	}
	return &serialSDK{sdk: sdk}
}

type serialSDK struct {
	mu  sync.Mutex
	sdk SDK
}

func (s *serialSDK) Discover(ifaces InterfaceType) (uint, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.Discover(ifaces)
}

func (s *serialSDK) DeviceInfo(devNo uint) (DeviceInfo, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.DeviceInfo(devNo)
}

func (s *serialSDK) Connect(devNo uint) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.Connect(devNo)
}

func (s *serialSDK) Disconnect(devNo uint) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.Disconnect(devNo)
}

func (s *serialSDK) DeviceConfig(devNo uint) (DeviceConfig, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.DeviceConfig(devNo)
}

func (s *serialSDK) DeviceStatus(devNo uint) (bool, bool, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.DeviceStatus(devNo)
}

func (s *serialSDK) AxisStatus(devNo uint, axis Axis) (bool, bool, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.AxisStatus(devNo, axis)
}

func (s *serialSDK) EcuData(devNo uint) (EcuData, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.EcuData(devNo)
}

func (s *serialSDK) StartAdjustment(devNo uint) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.StartAdjustment(devNo)
}

func (s *serialSDK) ResetAxis(devNo uint, axis Axis) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.ResetAxis(devNo, axis)
}

func (s *serialSDK) Position(devNo uint, axis Axis) (float64, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.Position(devNo, axis)
}

func (s *serialSDK) Positions(devNo uint) ([AxisCount]float64, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.Positions(devNo)
}

func (s *serialSDK) SetPosAverage(devNo uint, axis Axis, ns uint) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.SetPosAverage(devNo, axis, ns)
}

func (s *serialSDK) PosAverage(devNo uint, axis Axis) (uint, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdk.PosAverage(devNo, axis)
}
