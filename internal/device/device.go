package device

import (
	"fmt"
	"strings"
)

// State represents the lifecycle position of a single device.
// StateScanning is a radio-wide mode and is never stored on a device record.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateDiscovered
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

var stateNames = [...]string{
	StateIdle:          "Idle",
	StateScanning:      "Scanning",
	StateDiscovered:    "Discovered",
	StateConnecting:    "Connecting",
	StateConnected:     "Connected",
	StateDisconnecting: "Disconnecting",
	StateFailed:        "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// BluetoothState is the radio-wide power/authorization state.
// Ordinals follow the CoreBluetooth central manager numbering.
type BluetoothState int

const (
	BluetoothUnknown BluetoothState = iota
	BluetoothResetting
	BluetoothUnsupported
	BluetoothUnauthorized
	BluetoothPoweredOff
	BluetoothPoweredOn
)

var bluetoothStateNames = [...]string{
	BluetoothUnknown:      "unknown",
	BluetoothResetting:    "resetting",
	BluetoothUnsupported:  "unsupported",
	BluetoothUnauthorized: "unauthorized",
	BluetoothPoweredOff:   "poweredOff",
	BluetoothPoweredOn:    "poweredOn",
}

func (s BluetoothState) String() string {
	if s < 0 || int(s) >= len(bluetoothStateNames) {
		return fmt.Sprintf("BluetoothState(%d)", int(s))
	}
	return bluetoothStateNames[s]
}

// Available reports whether the radio can accept commands.
func (s BluetoothState) Available() bool {
	return s == BluetoothPoweredOn
}

// Characteristic names a logical characteristic the host may read.
type Characteristic int

const (
	CharacteristicVoltage Characteristic = iota
)

func (c Characteristic) String() string {
	switch c {
	case CharacteristicVoltage:
		return "voltage"
	default:
		return fmt.Sprintf("Characteristic(%d)", int(c))
	}
}

// ParseCharacteristic maps a host-supplied name to a Characteristic.
func ParseCharacteristic(name string) (Characteristic, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "voltage", "battery":
		return CharacteristicVoltage, nil
	default:
		return 0, fmt.Errorf("unknown characteristic %q", name)
	}
}

// Advertisement is the advertisement metadata surfaced to the host on discovery.
type Advertisement struct {
	LocalName        string   `json:"local_name,omitempty"`
	RSSI             int      `json:"rssi"`
	Connectable      bool     `json:"connectable"`
	Services         []string `json:"services,omitempty"`
	ManufacturerData []byte   `json:"manufacturer_data,omitempty"`
	TxPower          *int     `json:"tx_power,omitempty"`
}

// Info is a read-only snapshot of a device record.
type Info struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	State           State         `json:"-"`
	StateName       string        `json:"state"`
	Handle          string        `json:"handle,omitempty"`
	Characteristics []string      `json:"characteristics,omitempty"`
	Advertisement   Advertisement `json:"advertisement"`
	Voltage         float64       `json:"voltage,omitempty"`
}
