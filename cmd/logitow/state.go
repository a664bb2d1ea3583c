package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/logitow/blebridge/internal/device"
)

// stateCmd represents the state command
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the Bluetooth radio state",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

func runState(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	sess, err := openSession(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	state := sess.ctl.BluetoothState()
	paint := color.New(color.FgYellow).SprintFunc()
	if state == device.BluetoothPoweredOn {
		paint = color.New(color.FgGreen).SprintFunc()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Bluetooth: %s\n", paint(state.String()))
	return nil
}
