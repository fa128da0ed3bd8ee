package sim

import (
	"fmt"

	"github.com/ssrf-beamline/fpsioc/internal/config"
	"github.com/ssrf-beamline/fpsioc/internal/fps"
)

// OptionsFromConfig builds simulator options from the simulation section.
// Without configured devices DefaultDevices is used.
func OptionsFromConfig(cfg config.SimulationConfig) (Options, error) {
	opts := Options{AdjustDuration: cfg.AdjustDuration}
	if len(cfg.Devices) == 0 {
		opts.Devices = DefaultDevices()
		return opts, nil
	}

	for i, d := range cfg.Devices {
		if len(d.Positions) > fps.AxisCount || len(d.Drift) > fps.AxisCount {
			return Options{}, fmt.Errorf("device %d: at most %d positions and drift values", i, fps.AxisCount)
		}
		dev := Device{ID: d.ID, Address: d.Address, InUse: d.InUse}
		for _, name := range d.Features {
			f, err := fps.ParseFeature(name)
			if err != nil {
				return Options{}, fmt.Errorf("device %d: %w", i, err)
			}
			dev.Features |= f
		}
		copy(dev.Positions[:], d.Positions)
		copy(dev.Drift[:], d.Drift)
		opts.Devices = append(opts.Devices, dev)
	}
	return opts, nil
}
