// Package fpstest provides a conformance suite for fps.SDK implementations.
//
// Any library binding, simulated or real, must answer the same status codes
// for the same call sequence: discovery before connect, a lock on connected
// devices, NoAxis for out-of-range axes and a zero position after reset.
package fpstest

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/fps"
)

// Capabilities describes what the implementation under test provides.
type Capabilities struct {
	Name       string
	Interfaces fps.InterfaceType
	// MinDevices is the number of devices Discover must find.
	MinDevices uint
	// ResetTolerance bounds the position read right after a reset, in nm.
	ResetTolerance float64
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	SDKName       string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// RunConformance runs the complete conformance suite. newSDK must return a
// fresh library instance on every call.
func RunConformance(t *testing.T, newSDK func() fps.SDK, caps Capabilities) {
	t.Helper()
	startTime := time.Now()

	if caps.Interfaces == fps.IfNone {
		caps.Interfaces = fps.IfAll
	}
	if caps.MinDevices == 0 {
		caps.MinDevices = 1
	}

	report := &ConformanceReport{
		SDKName:       caps.Name,
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}

	runDiscoverTests(newSDK, caps, report)
	runConnectTests(newSDK, caps, report)
	runAxisRangeTests(newSDK, caps, report)
	runResetTests(newSDK, caps, report)
	runAdjustmentTests(newSDK, caps, report)
	runDisconnectTests(newSDK, caps, report)

	report.Duration = time.Since(startTime)

	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("SDK conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

// check runs one named step and records its outcome.
func check(report *ConformanceReport, name string, fn func(details map[string]interface{}) error) {
	result := ConformanceResult{
		TestName: name,
		Details:  make(map[string]interface{}),
	}
	start := time.Now()
	err := fn(result.Details)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Passed = true
	}
	report.addResult(result)
}

func expect(op string, got, want fps.Status) error {
	if got != want {
		return fmt.Errorf("%s returned %v, want %v", op, got, want)
	}
	return nil
}

// connectFirst discovers and connects device 0.
func connectFirst(sdk fps.SDK, caps Capabilities) error {
	n, st := sdk.Discover(caps.Interfaces)
	if err := expect("Discover", st, fps.Ok); err != nil {
		return err
	}
	if n < caps.MinDevices {
		return fmt.Errorf("Discover found %d devices, want at least %d", n, caps.MinDevices)
	}
	return expect("Connect", sdk.Connect(0), fps.Ok)
}

func runDiscoverTests(newSDK func() fps.SDK, caps Capabilities, report *ConformanceReport) {
	check(report, "Discover_Basic", func(details map[string]interface{}) error {
		sdk := newSDK()
		n, st := sdk.Discover(caps.Interfaces)
		details["devices"] = n
		if err := expect("Discover", st, fps.Ok); err != nil {
			return err
		}
		if n < caps.MinDevices {
			return fmt.Errorf("found %d devices, want at least %d", n, caps.MinDevices)
		}
		return nil
	})

	check(report, "DeviceInfo_BeforeConnect", func(details map[string]interface{}) error {
		sdk := newSDK()
		n, st := sdk.Discover(caps.Interfaces)
		if err := expect("Discover", st, fps.Ok); err != nil {
			return err
		}
		info, st := sdk.DeviceInfo(0)
		if err := expect("DeviceInfo", st, fps.Ok); err != nil {
			return err
		}
		details["id"] = info.ID
		details["address"] = info.Address
		if info.Connected {
			return fmt.Errorf("device reported connected before Connect")
		}
		_, st = sdk.DeviceInfo(n)
		return expect("DeviceInfo(out of range)", st, fps.NoDevice)
	})

	check(report, "Connect_BadDevice", func(details map[string]interface{}) error {
		sdk := newSDK()
		n, _ := sdk.Discover(caps.Interfaces)
		return expect("Connect(out of range)", sdk.Connect(n+5), fps.NoDevice)
	})
}

func runConnectTests(newSDK func() fps.SDK, caps Capabilities, report *ConformanceReport) {
	check(report, "Position_NotConnected", func(details map[string]interface{}) error {
		sdk := newSDK()
		if _, st := sdk.Discover(caps.Interfaces); st != fps.Ok {
			return expect("Discover", st, fps.Ok)
		}
		_, st := sdk.Position(0, fps.Axis0)
		return expect("Position", st, fps.NotConnected)
	})

	check(report, "Connect_Locks", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		info, _ := sdk.DeviceInfo(0)
		details["connected"] = info.Connected
		if !info.Connected {
			return fmt.Errorf("DeviceInfo reports not connected after Connect")
		}
		return expect("second Connect", sdk.Connect(0), fps.DeviceLocked)
	})

	check(report, "DeviceConfig_Basic", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		cfg, st := sdk.DeviceConfig(0)
		details["axisCount"] = cfg.AxisCount
		details["features"] = cfg.Features.String()
		if err := expect("DeviceConfig", st, fps.Ok); err != nil {
			return err
		}
		if cfg.AxisCount < 1 || cfg.AxisCount > fps.AxisCount {
			return fmt.Errorf("axis count %d out of range", cfg.AxisCount)
		}
		return nil
	})
}

func runAxisRangeTests(newSDK func() fps.SDK, caps Capabilities, report *ConformanceReport) {
	bad := fps.Axis(fps.AxisCount)

	check(report, "Axis_OutOfRange", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		if _, st := sdk.Position(0, bad); st != fps.NoAxis {
			return expect("Position", st, fps.NoAxis)
		}
		if _, _, st := sdk.AxisStatus(0, bad); st != fps.NoAxis {
			return expect("AxisStatus", st, fps.NoAxis)
		}
		return expect("ResetAxis", sdk.ResetAxis(0, bad), fps.NoAxis)
	})

	check(report, "Axis_InRange", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		for _, a := range fps.Axes() {
			if _, _, st := sdk.AxisStatus(0, a); st != fps.Ok {
				return expect("AxisStatus("+a.String()+")", st, fps.Ok)
			}
		}
		return nil
	})
}

func runResetTests(newSDK func() fps.SDK, caps Capabilities, report *ConformanceReport) {
	check(report, "ResetAxis_ZeroesPosition", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		for _, a := range fps.Axes() {
			if err := expect("ResetAxis", sdk.ResetAxis(0, a), fps.Ok); err != nil {
				return err
			}
			pos, st := sdk.Position(0, a)
			if err := expect("Position", st, fps.Ok); err != nil {
				return err
			}
			details[a.String()] = pos
			if math.Abs(pos) > caps.ResetTolerance {
				return fmt.Errorf("%s position %f after reset", a, pos)
			}
		}
		return nil
	})

	check(report, "ResetAxis_AllAxes_ZeroesPositions", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		for _, a := range fps.Axes() {
			if err := expect("ResetAxis", sdk.ResetAxis(0, a), fps.Ok); err != nil {
				return err
			}
		}
		pos, st := sdk.Positions(0)
		if err := expect("Positions", st, fps.Ok); err != nil {
			return err
		}
		for i, p := range pos {
			if math.Abs(p) > caps.ResetTolerance {
				return fmt.Errorf("axis%d position %f after reset", i, p)
			}
		}
		return nil
	})
}

func runAdjustmentTests(newSDK func() fps.SDK, caps Capabilities, report *ConformanceReport) {
	check(report, "StartAdjustment_Reported", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		if err := expect("StartAdjustment", sdk.StartAdjustment(0), fps.Ok); err != nil {
			return err
		}
		adjust, align, st := sdk.DeviceStatus(0)
		details["adjust"] = adjust
		details["align"] = align
		if err := expect("DeviceStatus", st, fps.Ok); err != nil {
			return err
		}
		if !adjust {
			return fmt.Errorf("adjustment not reported right after start")
		}
		return nil
	})
}

func runDisconnectTests(newSDK func() fps.SDK, caps Capabilities, report *ConformanceReport) {
	check(report, "Disconnect_ReleasesLock", func(details map[string]interface{}) error {
		sdk := newSDK()
		if err := connectFirst(sdk, caps); err != nil {
			return err
		}
		if err := expect("Disconnect", sdk.Disconnect(0), fps.Ok); err != nil {
			return err
		}
		if _, st := sdk.Position(0, fps.Axis0); st != fps.NotConnected {
			return expect("Position after Disconnect", st, fps.NotConnected)
		}
		return expect("reconnect", sdk.Connect(0), fps.Ok)
	})
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.Results = append(r.Results, result)
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("SDK CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("SDK: %s", report.SDKName)
	t.Logf("Total Tests: %d", report.TotalTests)
	t.Logf("Passed: %d", report.PassedTests)
	t.Logf("Failed: %d", report.FailedTests)
	t.Logf("Overall: %s", map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed])
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	t.Logf("%-30s %-8s %-12s %-s", "TEST NAME", "RESULT", "DURATION", "DETAILS")
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := ""
		if result.Error != "" {
			details = result.Error
		} else if len(result.Details) > 0 {
			var detailParts []string
			for k, v := range result.Details {
				detailParts = append(detailParts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(detailParts, ", ")
		}

		t.Logf("%-30s %-8s %-12s %-s",
			result.TestName,
			status,
			result.Duration.String(),
			details)
	}
	t.Logf("%s", strings.Repeat("=", 80))
}
