package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logitow/blebridge/internal/bridge"
	"github.com/logitow/blebridge/internal/device"
)

// voltageCmd represents the voltage command
var voltageCmd = &cobra.Command{
	Use:   "voltage <device-id>",
	Short: "Read the battery voltage of a brick",
	Long: `Scan until the brick advertises, connect to it, read its battery voltage,
print the reading and disconnect.

The device identifier is the one listed by the scan command.`,
	Args: cobra.ExactArgs(1),
	RunE: runVoltage,
}

var voltageTimeout time.Duration

func init() {
	voltageCmd.Flags().DurationVarP(&voltageTimeout, "timeout", "t", 30*time.Second, "Deadline for the whole scan, connect and read sequence")
}

// voltageReading is one decoded battery value.
type voltageReading struct {
	id    string
	name  string
	volts float64
	ratio float64
	low   bool
}

// voltageRun walks a single brick through scan, connect, read and disconnect.
type voltageRun struct {
	sess     *session
	target   string
	progress *ProgressPrinter
	logger   *logrus.Logger

	id      string
	name    string
	reading *voltageReading
}

func runVoltage(cmd *cobra.Command, args []string) error {
	target := strings.TrimSpace(args[0])
	if target == "" {
		return fmt.Errorf("device id cannot be empty")
	}
	if voltageTimeout <= 0 {
		return fmt.Errorf("invalid timeout %s: must be positive", voltageTimeout)
	}

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

	ctx, cancel := waitContext(cmd.Context(), voltageTimeout)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Reading "+target, "Scanning", voltageTimeout)
	progress.Start()
	defer progress.Stop()

	run := &voltageRun{sess: sess, target: target, progress: progress, logger: logger}
	if err := sess.ctl.StartScan(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	err = run.wait(ctx)
	progress.Stop()
	if run.reading != nil {
		printReading(cmd.OutOrStdout(), run.reading)
	}
	return err
}

// wait consumes events until the brick is disconnected after a reading, or fails.
func (r *voltageRun) wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return r.expired(ctx)

		case ev := <-r.sess.events():
			done, err := r.handle(ev)
			if err != nil || done {
				return err
			}
		}
	}
}

func (r *voltageRun) expired(ctx context.Context) error {
	switch {
	case interrupted(ctx):
		return context.Canceled
	case r.reading != nil:
		// reading done, the disconnect confirmation is all that is missing
		return nil
	case r.id == "":
		return fmt.Errorf("%w: %s did not advertise", ErrDeviceNotFound, r.target)
	default:
		return device.Errorf(device.Timeout, "no voltage from %s", r.id)
	}
}

func (r *voltageRun) handle(ev bridge.Event) (bool, error) {
	id := argString(ev, 0)

	switch ev.Method {
	case bridge.MethodBluetoothStateChanged:
		if state := argString(ev, 0); state != device.BluetoothPoweredOn.String() {
			return false, device.Errorf(device.RadioUnavailable, "bluetooth is %s", state)
		}

	case bridge.MethodDeviceDiscovered:
		if r.id != "" || !strings.EqualFold(id, r.target) {
			return false, nil
		}
		r.id = id
		if meta := argMap(ev, 1); meta != nil {
			r.name, _ = meta["name"].(string)
		}
		if err := r.sess.ctl.StopScan(); err != nil {
			r.logger.WithError(err).Debug("StopScan failed")
		}
		r.progress.SetPhase("Connecting")
		if _, err := r.sess.ctl.Connect(r.id); err != nil {
			return false, fmt.Errorf("failed to connect to %s: %w", r.id, err)
		}

	case bridge.MethodConnectResult:
		if id != r.id {
			return false, nil
		}
		if !argBool(ev, 1) {
			return false, resultError(ev, 2, "connect to "+r.id+" failed")
		}
		r.progress.SetPhase("Reading")
		if _, err := r.sess.ctl.ReadCharacteristic(r.id, device.CharacteristicVoltage); err != nil {
			return false, fmt.Errorf("failed to read voltage: %w", err)
		}

	case bridge.MethodCharacteristicResult:
		if id != r.id || argString(ev, 1) != device.CharacteristicVoltage.String() {
			return false, nil
		}
		if !argBool(ev, 3) {
			r.sess.ctl.Disconnect(r.id)
			return false, resultError(ev, 4, "voltage read from "+r.id+" failed")
		}
		value := argMap(ev, 2)
		r.reading = &voltageReading{id: r.id, name: r.name}
		r.reading.volts, _ = value["volts"].(float64)
		r.reading.ratio, _ = value["ratio"].(float64)
		r.reading.low, _ = value["low"].(bool)

		r.progress.SetPhase("Disconnecting")
		r.sess.ctl.Disconnect(r.id)

	case bridge.MethodStateChanged:
		if id == r.id && r.reading != nil && argString(ev, 2) == device.StateIdle.String() {
			return true, nil
		}
	}
	return false, nil
}

// resultError rebuilds the structured error reported at ev.Args[i].
func resultError(ev bridge.Event, i int, msg string) error {
	code := argString(ev, i)
	if code == "" {
		return errors.New(msg)
	}
	return device.Errorf(device.ErrorKind(code), "%s", msg)
}

func printReading(out io.Writer, r *voltageReading) {
	label := r.id
	if r.name != "" {
		label = fmt.Sprintf("%s (%s)", r.name, r.id)
	}
	fmt.Fprintf(out, "%s: %.2f V (%.0f%%)", label, r.volts, r.ratio*100)
	if r.low {
		fmt.Fprint(out, " ", color.New(color.FgRed, color.Bold).Sprint("LOW BATTERY"))
	}
	fmt.Fprintln(out)
}
