package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/logitow/blebridge/internal/bridge"
	"github.com/logitow/blebridge/internal/device"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for LOGITOW bricks",
	Long: `Scan for LOGITOW bricks in range and list them with their friendly name,
device identifier and signal strength.

The scan runs for --duration (the config file scan_duration when unset) or until Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

var validScanFormats = []string{"table", "json"}

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_duration from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	valid := false
	for _, f := range validScanFormats {
		if scanFormat == f {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validScanFormats)
	}
	if scanDuration < 0 {
		return fmt.Errorf("invalid duration %s: must not be negative", scanDuration)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	// Arguments validated; don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := cfg.ScanDuration
	if cmd.Flags().Changed("duration") {
		duration = scanDuration
	}

	sess, err := openSession(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.ctl.StartScan(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	ctx, cancel := waitContext(cmd.Context(), duration)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for LOGITOW bricks", "Scanning", duration)
	progress.Start()
	err = collectScan(ctx, sess.events(), progress)
	progress.Stop()

	if stopErr := sess.ctl.StopScan(); stopErr != nil {
		logger.WithError(stopErr).Debug("StopScan failed")
	}
	if err != nil {
		return err
	}

	devices := sess.ctl.Devices()
	if scanFormat == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices)
}

// collectScan consumes events until ctx ends or the radio stops the scan.
func collectScan(ctx context.Context, events <-chan bridge.Event, progress *ProgressPrinter) error {
	found := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-events:
			switch ev.Method {
			case bridge.MethodDeviceDiscovered:
				found++
				progress.SetPhase(fmt.Sprintf("%d found", found))
			case bridge.MethodBluetoothStateChanged:
				if state := argString(ev, 0); state != device.BluetoothPoweredOn.String() {
					return device.Errorf(device.RadioUnavailable, "bluetooth is %s", state)
				}
			case bridge.MethodScanStateChanged:
				if !argBool(ev, 0) {
					return nil
				}
			}
		}
	}
}

func displayDevicesTable(out io.Writer, devices []device.Info) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No LOGITOW bricks discovered")
		return nil
	}

	name := color.New(color.FgCyan, color.Bold).SprintFunc()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tRSSI\tSTATE")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name(d.Name), d.ID, d.Advertisement.RSSI, d.StateName)
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []device.Info) error {
	if devices == nil {
		devices = []device.Info{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
