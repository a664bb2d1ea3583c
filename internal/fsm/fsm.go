// Package fsm is the connection lifecycle transition table.
//
// Next is pure: it never touches a radio or a registry. Callers apply the
// returned state and decide which side effects follow.
package fsm

import (
	"fmt"

	"github.com/logitow/blebridge/internal/device"
)

// Trigger is an input to the state machine.
type Trigger int

const (
	// Radio-wide triggers, applied to the scan mode (StateIdle or StateScanning).
	TriggerStartScan Trigger = iota
	TriggerStopScan

	// Per-device triggers.
	TriggerAdvertised
	TriggerConnect
	TriggerConnected
	TriggerConnectFailed
	TriggerTimeout
	TriggerDisconnect
	TriggerDisconnected
	TriggerPowerOff
)

var triggerNames = [...]string{
	TriggerStartScan:     "startScan",
	TriggerStopScan:      "stopScan",
	TriggerAdvertised:    "advertisement",
	TriggerConnect:       "connect",
	TriggerConnected:     "connected",
	TriggerConnectFailed: "connectFailed",
	TriggerTimeout:       "timeout",
	TriggerDisconnect:    "disconnect",
	TriggerDisconnected:  "disconnected",
	TriggerPowerOff:      "powerOff",
}

func (t Trigger) String() string {
	if t < 0 || int(t) >= len(triggerNames) {
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
	return triggerNames[t]
}

type edge struct {
	from    device.State
	trigger Trigger
}

// Outcome of a (state, trigger) pair. A nil err with to == from is a no-op.
type outcome struct {
	to  device.State
	err *device.Error
}

var table = map[edge]outcome{
	{device.StateIdle, TriggerStartScan}:     {to: device.StateScanning},
	{device.StateScanning, TriggerStartScan}: {to: device.StateScanning},
	{device.StateScanning, TriggerStopScan}:  {to: device.StateIdle},
	{device.StateIdle, TriggerStopScan}:      {to: device.StateIdle},

	{device.StateIdle, TriggerAdvertised}:          {to: device.StateDiscovered},
	{device.StateFailed, TriggerAdvertised}:        {to: device.StateDiscovered},
	{device.StateDiscovered, TriggerAdvertised}:    {to: device.StateDiscovered},
	{device.StateConnecting, TriggerAdvertised}:    {to: device.StateConnecting},
	{device.StateConnected, TriggerAdvertised}:     {to: device.StateConnected},
	{device.StateDisconnecting, TriggerAdvertised}: {to: device.StateDisconnecting},

	{device.StateDiscovered, TriggerConnect}:    {to: device.StateConnecting},
	{device.StateIdle, TriggerConnect}:          {to: device.StateConnecting},
	{device.StateConnecting, TriggerConnect}:    {to: device.StateConnecting, err: device.ErrAlreadyPending},
	{device.StateDisconnecting, TriggerConnect}: {to: device.StateDisconnecting, err: device.ErrAlreadyPending},
	{device.StateConnected, TriggerConnect}:     {to: device.StateConnected, err: device.ErrAlreadyConnected},

	{device.StateConnecting, TriggerConnected}:     {to: device.StateConnected},
	{device.StateConnecting, TriggerConnectFailed}: {to: device.StateFailed},
	{device.StateConnecting, TriggerTimeout}:       {to: device.StateFailed},

	{device.StateConnected, TriggerDisconnect}:     {to: device.StateDisconnecting},
	{device.StateConnecting, TriggerDisconnect}:    {to: device.StateDisconnecting},
	{device.StateDisconnecting, TriggerDisconnect}: {to: device.StateDisconnecting},
	{device.StateIdle, TriggerDisconnect}:          {to: device.StateIdle},
	{device.StateDiscovered, TriggerDisconnect}:    {to: device.StateDiscovered},
	{device.StateFailed, TriggerDisconnect}:        {to: device.StateFailed},
	{device.StateDisconnecting, TriggerTimeout}:    {to: device.StateIdle},
}

// Next returns the state reached from `from` on trigger t.
// Disallowed pairs return `from` unchanged with an InvalidState error,
// or a more specific kind (AlreadyPending, AlreadyConnected) where one applies.
func Next(from device.State, t Trigger) (device.State, error) {
	// Disconnected and power-off are accepted from anywhere.
	if t == TriggerDisconnected || t == TriggerPowerOff {
		if from == device.StateScanning {
			return from, invalid(from, t)
		}
		return device.StateIdle, nil
	}

	o, ok := table[edge{from, t}]
	if !ok {
		return from, invalid(from, t)
	}
	if o.err != nil {
		return o.to, device.Errorf(o.err.Kind, "%s from %s", t, from)
	}
	return o.to, nil
}

// Allowed reports whether t moves `from` without error.
func Allowed(from device.State, t Trigger) bool {
	_, err := Next(from, t)
	return err == nil
}

func invalid(from device.State, t Trigger) error {
	return device.Errorf(device.InvalidState, "%s not allowed from %s", t, from)
}
