package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logitow/blebridge"
	"github.com/logitow/blebridge/internal/lua"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [script.lua [args...]]",
	Short: "Run a Lua script against the bridge",
	Long: `Load a Lua script and run it with the bridge attached.

The script controls the radio through the logitow module:

  logitow.start_scan()          logitow.stop_scan()        logitow.is_scanning()
  logitow.connect(id)           logitow.disconnect(id)     logitow.read_voltage(id)
  logitow.bluetooth_state()     logitow.devices()          logitow.quit()

and receives events through methods of its global logitow_events table:

  onDeviceDiscovered(id, metadata)      onStateChanged(id, old, new)
  onConnectResult(id, ok, err)          onCharacteristicResult(id, which, value, ok, err)
  onBluetoothStateChanged(state)        onScanStateChanged(scanning)
  onBlockOperation(id, operation)       onBatteryLow(id, volts)

Without a script file the built-in monitor script runs: it prints every event and
connects to each discovered brick. The script runs until logitow.quit(), --duration
or Ctrl+C.

Arguments after the script file are available to it in the global arg table.
With --tail N the output is buffered and only its last N records are printed at exit.`,
	Example: `  logitow run monitor.lua --duration 1m`,
	Args:    cobra.ArbitraryArgs,
	RunE:    runScript,
}

var (
	runDuration time.Duration
	runTail     uint32
)

func init() {
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop after this long (0 runs until quit or Ctrl+C)")
	runCmd.Flags().Uint32Var(&runTail, "tail", 0, "Print only the last N output records when the script ends (0 streams output live)")
}

func runScript(cmd *cobra.Command, args []string) error {
	if runDuration < 0 {
		return fmt.Errorf("invalid duration %s: must not be negative", runDuration)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	engine := lua.NewLuaEngine(logger)
	defer engine.Close()

	if len(args) > 0 {
		err = engine.LoadScriptFile(args[0])
	} else {
		err = engine.LoadScript(blebridge.DefaultMonitorScript, "monitor.lua")
	}
	if err != nil {
		return err
	}
	// script arguments, as the standalone interpreter exposes them
	scriptArgs := []string{}
	if len(args) > 1 {
		scriptArgs = args[1:]
	}
	if err := engine.SetGlobal("arg", scriptArgs); err != nil {
		return err
	}

	ctx, cancel := waitContext(cmd.Context(), runDuration)
	defer cancel()

	if runTail > 0 {
		collector, err := lua.NewLuaOutputCollector(engine.OutputChannel(), runTail)
		if err != nil {
			return fmt.Errorf("invalid --tail: %w", err)
		}
		if err := collector.Start(); err != nil {
			return err
		}
		defer func() {
			collector.Stop()
			text, err := collector.ConsumePlainText()
			if err != nil {
				logger.WithError(err).Warn("Failed to read script output")
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
		}()
	} else {
		drainer := lua.NewOutputDrainer(cmd.Context(), engine.OutputChannel(), logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
		defer func() {
			drainer.Cancel()
			drainer.Wait()
		}()
	}

	quit, stop := context.WithCancel(ctx)
	defer stop()

	sess, err := openSession(cmd.Context(), cfg, logger, lua.NewRuntime(engine))
	if err != nil {
		return err
	}
	// runs before engine.Close so pending callbacks still find the Lua state
	defer sess.Close()

	lua.NewLogitowAPI(engine, sess.ctl, stop)

	if err := engine.ExecuteScript(ctx, ""); err != nil {
		return err
	}

	<-quit.Done()
	if interrupted(ctx) {
		return context.Canceled
	}

	delivered, dropped := sess.ctl.BridgeStats()
	logger.WithFields(logrus.Fields{
		"delivered": delivered,
		"dropped":   dropped,
	}).Info("Script finished")
	return nil
}
