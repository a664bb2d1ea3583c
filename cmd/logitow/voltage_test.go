package main

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/testutils"
)

type VoltageTestSuite struct {
	CommandTestSuite
}

// TestVoltageReadsAndDisconnects verifies the full scan, connect, read, disconnect sequence
//
// GOAL: The command prints one reading and leaves the brick disconnected
//
// TEST SCENARIO: Brick answers 1.9 V → reading printed, one connect, one read, one disconnect
func (s *VoltageTestSuite) TestVoltageReadsAndDisconnects() {
	out, _, err := s.ExecuteCommand("voltage", TestBrick1, "--timeout", "2s")
	s.Require().NoError(err, "voltage MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(out, "LOGITOW - 1 (00:00:00:00:00:01): 1.90 V (90%)\n")

	s.Equal(1, s.Radio.CallCount("Connect"), "exactly one connect MUST be issued")
	s.Equal(1, s.Radio.CallCount("Request"), "exactly one voltage read MUST be issued")
	s.Equal(1, s.Radio.CallCount("Disconnect"), "the brick MUST be disconnected after the read")
	s.Radio.AssertCalled(s.T(), "Connect", TestBrick1, s.Radio.ConnectToken(TestBrick1))
}

func (s *VoltageTestSuite) TestVoltageSecondBrick() {
	out, _, err := s.ExecuteCommand("voltage", TestBrick2, "--timeout", "2s")
	s.Require().NoError(err)

	s.Contains(out, "LOGITOW - 2 (00:00:00:00:00:02)", "friendly names MUST follow discovery order")
	s.Zero(s.Radio.ConnectToken(TestBrick1), "only the requested brick MUST be connected")
}

func (s *VoltageTestSuite) TestVoltageLowBattery() {
	s.Radio.voltage = []byte{0x00, 0x01}

	out, _, err := s.ExecuteCommand("voltage", TestBrick1, "--timeout", "2s")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, "LOGITOW - 1 (00:00:00:00:00:01): 0.10 V (5%) LOW BATTERY\n")
}

func (s *VoltageTestSuite) TestVoltageDeviceNotFound() {
	out, _, err := s.ExecuteCommand("voltage", "00:00:00:00:00:09", "--timeout", "200ms")

	s.Require().ErrorIs(err, ErrDeviceNotFound)
	s.Empty(out, "nothing MUST be printed without a reading")
	s.Equal(0, s.Radio.CallCount("Connect"))
}

func (s *VoltageTestSuite) TestVoltageConnectFails() {
	s.Radio.connectErr = device.ErrConnectFailed

	_, _, err := s.ExecuteCommand("voltage", TestBrick1, "--timeout", "2s")

	s.Require().Error(err)
	s.True(device.IsKind(err, device.ConnectFailed), "connect failure MUST surface as ConnectFailed, got %v", err)
	s.Equal(0, s.Radio.CallCount("Request"), "no read MUST be issued without a connection")
}

func (s *VoltageTestSuite) TestVoltageReadUnanswered() {
	s.Radio.voltage = nil

	out, _, err := s.ExecuteCommand("voltage", TestBrick1, "--timeout", "300ms")

	s.Require().Error(err)
	s.True(device.IsKind(err, device.Timeout), "an unanswered read MUST time out, got %v", err)
	s.Empty(out)
}

func (s *VoltageTestSuite) TestVoltageRequiresDeviceID() {
	_, _, err := s.ExecuteCommand("voltage")
	s.Require().Error(err)
	s.Contains(err.Error(), "accepts 1 arg(s)")

	resetFlags(rootCmd)
	_, _, err = s.ExecuteCommand("voltage", TestBrick1, "--timeout", "0s")
	s.Require().Error(err)
	s.Contains(err.Error(), "must be positive")
}

func TestVoltageTestSuite(t *testing.T) {
	suite.Run(t, new(VoltageTestSuite))
}
