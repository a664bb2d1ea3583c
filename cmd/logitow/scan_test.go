package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/testutils"
)

type ScanTestSuite struct {
	CommandTestSuite
}

// TestScanListsBricks verifies discovered bricks are listed in discovery order
//
// GOAL: The table shows every advertising brick once with its friendly name and RSSI
//
// TEST SCENARIO: Two bricks advertise during a short scan → two rows, named in discovery order
func (s *ScanTestSuite) TestScanListsBricks() {
	out, _, err := s.ExecuteCommand("scan", "--duration", "300ms")
	s.Require().NoError(err, "scan MUST succeed")

	s.Equal([][]string{
		{"LOGITOW", "-", "1", TestBrick1, "-40", "dBm", "Discovered"},
		{"LOGITOW", "-", "2", TestBrick2, "-41", "dBm", "Discovered"},
	}, tableRows(out), "table MUST list both bricks")

	s.Equal(1, s.Radio.CallCount("StartScan"), "scan MUST start the radio once")
	s.Equal(1, s.Radio.CallCount("StopScan"), "scan MUST stop the radio when done")
	s.Equal(1, s.Radio.CallCount("Close"), "radio MUST be closed on exit")
}

func (s *ScanTestSuite) TestScanJSON() {
	out, _, err := s.ExecuteCommand("scan", "--duration", "300ms", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[
		{"id": "00:00:00:00:00:01", "name": "LOGITOW - 1", "state": "Discovered", "advertisement": {"rssi": -40, "local_name": "LOGITOW"}},
		{"id": "00:00:00:00:00:02", "name": "LOGITOW - 2", "state": "Discovered", "advertisement": {"rssi": -41, "local_name": "LOGITOW"}}
	]`)
}

func (s *ScanTestSuite) TestScanNothingFound() {
	s.Radio.bricks = nil

	out, _, err := s.ExecuteCommand("scan", "--duration", "150ms")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "No LOGITOW bricks discovered\n")
}

func (s *ScanTestSuite) TestScanDurationFromConfig() {
	h := testutils.NewTestHelper(s.T())
	path := h.WriteTempFile("logitow.yaml", "scan_duration: 200ms\nlog_level: debug\n")

	out, stderr, err := s.ExecuteCommand("scan", "--config", path)
	s.Require().NoError(err, "scan MUST end after the configured duration")
	s.Len(tableRows(out), 2)
	s.Contains(stderr, "Controller started", "config log level MUST apply when no flag overrides it")
}

func (s *ScanTestSuite) TestScanPoweredOff() {
	s.Radio.SetPowerStateSilently(device.BluetoothPoweredOff)

	_, _, err := s.ExecuteCommand("scan", "--duration", "150ms")
	s.Require().Error(err)
	s.True(device.IsKind(err, device.RadioUnavailable), "scan MUST fail with RadioUnavailable, got %v", err)
	s.Contains(FormatUserError(err), "Bluetooth is unavailable")
}

func (s *ScanTestSuite) TestScanRadioPowersOffMidScan() {
	s.Radio.bricks = nil
	go func() {
		for s.Radio.CallCount("StartScan") == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		s.Radio.SetPowerState(device.BluetoothPoweredOff)
	}()

	_, _, err := s.ExecuteCommand("scan", "--duration", "2s")
	s.Require().Error(err)
	s.True(device.IsKind(err, device.RadioUnavailable), "power loss MUST abort the scan, got %v", err)
}

func (s *ScanTestSuite) TestScanRejectsBadFlags() {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown format", args: []string{"scan", "--format", "xml"}, want: "invalid format 'xml'"},
		{name: "negative duration", args: []string{"scan", "--duration", "-1s"}, want: "must not be negative"},
		{name: "bad log level", args: []string{"scan", "--log-level", "loud"}, want: "invalid log level"},
		{name: "missing config", args: []string{"scan", "--config", "/nonexistent/logitow.yaml"}, want: "failed to read config file"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resetFlags(rootCmd)
			_, _, err := s.ExecuteCommand(tt.args...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.want)
			s.Equal(0, s.Radio.CallCount("StartScan"), "invalid invocations MUST NOT touch the radio")
		})
	}
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
