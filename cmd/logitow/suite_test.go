package main

import (
	"bytes"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/testutils"
)

// Test brick identifiers, advertised in this order
const (
	TestBrick1 = "00:00:00:00:00:01"
	TestBrick2 = "00:00:00:00:00:02"
)

// brickRadio answers like responsive bricks: a scan advertises every brick,
// connects and voltage reads complete, and disconnects are confirmed.
type brickRadio struct {
	*testutils.FakeRadio

	bricks     []string
	voltage    []byte // nil leaves reads unanswered
	connectErr error  // non-nil fails every connect asynchronously
}

func newBrickRadio(bricks ...string) *brickRadio {
	return &brickRadio{
		FakeRadio: testutils.NewFakeRadio(),
		bricks:    bricks,
		voltage:   []byte{0x01, 0x09},
	}
}

func (r *brickRadio) StartScan() error {
	if err := r.FakeRadio.StartScan(); err != nil {
		return err
	}
	go func() {
		for i, id := range r.bricks {
			r.Advertise(id, -40-i)
		}
	}()
	return nil
}

func (r *brickRadio) Connect(id string, token uint64) error {
	if err := r.FakeRadio.Connect(id, token); err != nil {
		return err
	}
	go func() {
		if r.connectErr != nil {
			r.FailConnect(id, r.connectErr)
			return
		}
		r.CompleteConnect(id)
	}()
	return nil
}

func (r *brickRadio) Request(id string, which device.Characteristic, token uint64) error {
	if err := r.FakeRadio.Request(id, which, token); err != nil {
		return err
	}
	if r.voltage != nil {
		go r.RespondVoltage(id, r.voltage)
	}
	return nil
}

func (r *brickRadio) Disconnect(id string) error {
	if err := r.FakeRadio.Disconnect(id); err != nil {
		return err
	}
	go r.Drop(id, nil)
	return nil
}

// CommandTestSuite runs cobra commands against an in-memory radio.
// All cmd/logitow test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Radio *brickRadio

	originalRadio func(string, *logrus.Logger) device.Radio
}

func (s *CommandTestSuite) SetupSuite() {
	color.NoColor = true
	s.originalRadio = newRadio
}

func (s *CommandTestSuite) TearDownSuite() {
	newRadio = s.originalRadio
}

func (s *CommandTestSuite) SetupTest() {
	s.Radio = newBrickRadio(TestBrick1, TestBrick2)
	newRadio = func(string, *logrus.Logger) device.Radio {
		return s.Radio
	}
	resetFlags(rootCmd)
}

// resetFlags restores every flag of cmd and its subcommands to its default and clears Changed.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// ExecuteCommand runs the root command with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// tableRows splits tabular output into whitespace-separated fields, skipping the header and rule.
func tableRows(out string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "NAME" || strings.HasPrefix(fields[0], "---") {
			continue
		}
		rows = append(rows, fields)
	}
	return rows
}
