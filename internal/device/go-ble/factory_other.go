//go:build !darwin && !linux

package goble

import (
	"runtime"

	"github.com/go-ble/ble"

	"github.com/logitow/blebridge/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, device.Errorf(device.InvalidState, "no BLE backend for %s", runtime.GOOS)
}
