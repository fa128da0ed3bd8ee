package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ssrf-beamline/fpsioc/internal/command"
	"github.com/ssrf-beamline/fpsioc/internal/driver"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Configure(ctx context.Context, port string, devNo int) error {
	return m.Called(port, devNo).Error(0)
}

func (m *mockController) Read(ctx context.Context, port, name string, addr int) (command.Reading, error) {
	args := m.Called(port, name, addr)
	return args.Get(0).(command.Reading), args.Error(1)
}

func (m *mockController) Write(ctx context.Context, port, name string, addr int, value int32) error {
	return m.Called(port, name, addr, value).Error(0)
}

func (m *mockController) Report(ctx context.Context, w io.Writer, port string, level int) error {
	args := m.Called(port, level)
	fmt.Fprintf(w, "report %s %d\n", port, level)
	return args.Error(0)
}

func (m *mockController) SetTrace(ctx context.Context, port string, on bool) error {
	return m.Called(port, on).Error(0)
}

func setupFPSShell(t *testing.T) (*Shell, *mockController, *bytes.Buffer, *[]bool) {
	t.Helper()
	var out bytes.Buffer
	s := New(&out, nil)
	ctl := &mockController{}
	var debug []bool
	require.NoError(t, RegisterFPS(s, ctl, func(on bool) { debug = append(debug, on) }))
	t.Cleanup(func() { ctl.AssertExpectations(t) })
	return s, ctl, &out, &debug
}

func TestFPSConfigure(t *testing.T) {
	s, ctl, out, _ := setupFPSShell(t)
	ctx := context.Background()

	ctl.On("Configure", "FPS1", 0).Return(nil).Once()
	ctl.On("Configure", "FPS2", 1).Return(nil).Once()
	ctl.On("Configure", "FPS1", 2).Return(driver.ErrPortExists).Once()

	require.NoError(t, s.Exec(ctx, "fpsConfigure FPS1 0"))
	require.NoError(t, s.Exec(ctx, `blcfpsConfigure("FPS2", 1)`))
	assert.ErrorIs(t, s.Exec(ctx, "fpsConfigure FPS1 2"), driver.ErrPortExists)
	assert.ErrorIs(t, s.Exec(ctx, "fpsConfigure FPS3"), ErrUsage)
	assert.Contains(t, out.String(), "FPS2: configured device 1")
}

func TestFPSReadWrite(t *testing.T) {
	s, ctl, out, _ := setupFPSShell(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ctl.On("Read", "FPS1", "getPosition", 2).Return(command.Reading{
		Port: "FPS1", Param: "getPosition", Addr: 2, Type: "float64", Value: 12.5, Time: ts,
	}, nil).Once()
	ctl.On("Write", "FPS1", "reset", 1, int32(1)).Return(nil).Once()

	require.NoError(t, s.Exec(ctx, "fpsRead FPS1 getPosition 2"))
	assert.Equal(t, "FPS1 getPosition[2] = 12.5 (2024-05-01 12:00:00.000)\n", out.String())

	require.NoError(t, s.Exec(ctx, "fpsWrite FPS1 reset 1 1"))
	assert.ErrorContains(t, s.Exec(ctx, "fpsWrite FPS1 reset 1 1.5"), "is not an int")

	// out-of-range values are refused, never truncated
	for _, v := range []string{"4294967296", "2147483648", "-2147483649", "0x100000000"} {
		err := s.Exec(ctx, "fpsWrite FPS1 reset 0 "+v)
		assert.ErrorIs(t, err, ErrUsage, v)
		assert.ErrorContains(t, err, "out of int32 range", v)
	}
	ctl.On("Write", "FPS1", "reset", 0, int32(-2147483648)).Return(nil).Once()
	require.NoError(t, s.Exec(ctx, "fpsWrite FPS1 reset 0 -2147483648"))
}

func TestFPSReport(t *testing.T) {
	s, ctl, out, _ := setupFPSShell(t)
	ctx := context.Background()

	ctl.On("Report", "", 0).Return(nil).Once()
	ctl.On("Report", "FPS1", 1).Return(nil).Once()

	require.NoError(t, s.Exec(ctx, "fpsReport"))
	require.NoError(t, s.Exec(ctx, "fpsReport FPS1 1"))
	assert.Equal(t, "report  0\nreport FPS1 1\n", out.String())
}

func TestFPSDebug(t *testing.T) {
	s, ctl, _, debug := setupFPSShell(t)
	ctx := context.Background()

	ctl.On("SetTrace", "", true).Return(nil).Once()
	ctl.On("SetTrace", "", false).Return(nil).Once()

	require.NoError(t, s.Exec(ctx, "fpsDebug 1"))
	require.NoError(t, s.Exec(ctx, "fpsDebug(0)"))
	assert.Equal(t, []bool{true, false}, *debug)
}

func TestFPSStatus(t *testing.T) {
	s, _, out, _ := setupFPSShell(t)
	ctx := context.Background()

	require.NoError(t, s.Exec(ctx, "fpsStatus 10"))
	require.NoError(t, s.Exec(ctx, "fpsStatus 42"))
	require.NoError(t, s.Exec(ctx, "fpsStatus -1"))
	assert.Equal(t, "Invalid axis number in function call\nUnspecified error\n", out.String())
}

func TestFPSCommandsRegistered(t *testing.T) {
	s, _, _, _ := setupFPSShell(t)
	assert.Equal(t, []string{
		"blcfpsConfigure", "fpsConfigure", "fpsDebug", "fpsRead", "fpsReport", "fpsStatus", "fpsWrite", "help",
	}, s.Commands())
	assert.Error(t, RegisterFPS(s, &mockController{}, nil), "registering twice fails")
}
