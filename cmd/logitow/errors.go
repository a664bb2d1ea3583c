package main

import (
	"errors"
	"fmt"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/lua"
)

// Command-level errors
var (
	// ErrDeviceNotFound means the requested brick did not advertise before the deadline.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrConnectionLost means the link dropped while a command still needed it.
	ErrConnectionLost = errors.New("connection lost")
)

var kindHints = map[device.ErrorKind]string{
	device.RadioUnavailable:   "Bluetooth is unavailable; check that it is powered on and that this program may use it",
	device.UnknownDevice:      "the device has not been discovered; scan for it first",
	device.AlreadyPending:     "another request for this device is still in progress",
	device.ConnectFailed:      "could not connect to the device",
	device.Timeout:            "the device did not answer in time",
	device.Cancelled:          "the request was cancelled",
	device.BridgeAttachFailed: "the event callback could not be delivered",
	device.NotConnected:       "the device is not connected",
	device.NotInitialized:     "the bridge is not ready",
	device.AlreadyConnected:   "the device is already connected",
	device.InvalidState:       "the device sent an unexpected reply",
}

// FormatUserError turns err into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var luaErr *lua.LuaError
	if errors.As(err, &luaErr) {
		return luaErr.Error()
	}

	if kind := device.KindOf(err); kind != "" {
		if hint, ok := kindHints[kind]; ok {
			return fmt.Sprintf("%s (%s)", hint, err)
		}
	}
	return err.Error()
}
