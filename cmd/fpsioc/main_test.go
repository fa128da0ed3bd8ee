package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrf-beamline/fpsioc/internal/command"
	"github.com/ssrf-beamline/fpsioc/internal/config"
	"github.com/ssrf-beamline/fpsioc/internal/driver"
	"github.com/ssrf-beamline/fpsioc/internal/fps/libfps"
	"github.com/ssrf-beamline/fpsioc/internal/fps/sim"
	"github.com/ssrf-beamline/fpsioc/internal/shell"
)

func TestNewSDK(t *testing.T) {
	cfg := config.Default()
	cfg.SDK = "sim"
	sdk, err := newSDK(cfg)
	require.NoError(t, err)
	assert.IsType(t, &sim.SDK{}, sdk)

	cfg.Simulation.Devices = []config.SimDevice{{Address: "USB", Features: []string{"bogus"}}}
	_, err = newSDK(cfg)
	assert.Error(t, err)
}

func TestNewSDKVendorUnavailable(t *testing.T) {
	if _, err := libfps.New(); err == nil {
		t.Skip("built with the vendor library")
	}
	_, err := newSDK(config.Default())
	assert.ErrorIs(t, err, libfps.ErrUnavailable)
}

func TestStartupScript(t *testing.T) {
	sdk := sim.New(sim.Options{Devices: sim.DefaultDevices()})
	m := driver.NewManager(sdk, driver.Options{})
	t.Cleanup(func() { _ = m.Close() })
	o := command.NewOrchestrator(m, 0, nil)

	sh := shell.New(os.Stdout, nil)
	require.NoError(t, shell.RegisterFPS(sh, o, nil))

	path := filepath.Join(t.TempDir(), "st.cmd")
	require.NoError(t, os.WriteFile(path, []byte("# ports\nblcfpsConfigure(\"FPS1\", 0)\nfpsDebug 1\n"), 0o644))
	require.NoError(t, runScript(context.Background(), sh, path))

	assert.Equal(t, []string{"FPS1"}, portNames(o))
	st, err := o.Port("FPS1")
	require.NoError(t, err)
	assert.True(t, st.Trace)

	assert.Error(t, runScript(context.Background(), sh, path+".missing"))
}
