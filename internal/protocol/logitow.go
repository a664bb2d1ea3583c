// Package protocol decodes the LOGITOW brick wire format: the GATT layout,
// voltage replies and block-operation packets.
package protocol

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// GATT layout of a LOGITOW brick
const (
	DataServiceUUID    = "69400001-b5a3-f393-e0a9-e50e24dcca99"
	DataWriteCharUUID  = "69400002-b5a3-f393-e0a9-e50e24dcca99"
	DataNotifyCharUUID = "69400003-b5a3-f393-e0a9-e50e24dcca99"

	BatteryServiceUUID    = "7f510004-b5a3-f393-e0a9-e50e24dcca9e"
	BatteryWriteCharUUID  = "7f510005-b5a3-f393-e0a9-e50e24dcca9e"
	BatteryNotifyCharUUID = "7f510006-b5a3-f393-e0a9-e50e24dcca9e"
)

// Battery characteristics
const (
	MinVoltage = 1.5
	MaxVoltage = 2.1

	// DefaultLowChargeRatio is the volts/MaxVoltage ratio at or under which a brick reports low charge.
	DefaultLowChargeRatio = 0.05
)

// DeviceNamePrefix is the advertised local-name prefix of LOGITOW bricks.
const DeviceNamePrefix = "LOGITOW"

// BlockPacketSize is the length of a block-operation notification.
const BlockPacketSize = 7

// VoltageRequest returns the command that asks the brick to report its battery voltage.
func VoltageRequest() []byte {
	return []byte{0xAD, 0x02}
}

// DecodeVoltage converts a battery notification into volts.
// The first byte holds the integral part, the second the tenths.
func DecodeVoltage(b []byte) (float64, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("voltage payload too short: %d bytes", len(b))
	}
	v := float64(b[0]) + float64(b[1])*0.1
	return math.Round(v*100) / 100, nil
}

// ChargeRatio returns volts as a fraction of the nominal maximum.
func ChargeRatio(volts float64) float64 {
	return volts / MaxVoltage
}

// IsLowCharge reports whether volts is at or below ratio of the nominal maximum.
// A non-positive ratio selects DefaultLowChargeRatio.
func IsLowCharge(volts, ratio float64) bool {
	if ratio <= 0 {
		ratio = DefaultLowChargeRatio
	}
	return ChargeRatio(volts) <= ratio
}

// IsLogitowName reports whether an advertised local name belongs to a LOGITOW brick.
func IsLogitowName(name string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(name)), DeviceNamePrefix)
}

// BlockSide identifies the face of a block another block was attached to.
type BlockSide int

const (
	SideUndefined BlockSide = iota
	SideBack
	SideFront
	SideBottom
	SideLeft
	SideTop
	SideRight
)

var blockSideNames = [...]string{
	SideUndefined: "undefined",
	SideBack:      "back",
	SideFront:     "front",
	SideBottom:    "bottom",
	SideLeft:      "left",
	SideTop:       "top",
	SideRight:     "right",
}

func (s BlockSide) String() string {
	if s < 0 || int(s) >= len(blockSideNames) {
		return blockSideNames[SideUndefined]
	}
	return blockSideNames[s]
}

// BlockOperation is one decoded block add/remove notification.
type BlockOperation struct {
	BlockA  uint32    `json:"block_a"`
	Side    BlockSide `json:"-"`
	Face    string    `json:"face"`
	BlockB  uint32    `json:"block_b"`
	Removed bool      `json:"removed"`
}

// DecodeBlockOperation parses a 7-byte block packet.
// A zero BlockB marks the removal of whatever was attached to BlockA at Side.
func DecodeBlockOperation(b []byte) (BlockOperation, error) {
	if len(b) != BlockPacketSize {
		return BlockOperation{}, fmt.Errorf("block packet must be %d bytes, got %d", BlockPacketSize, len(b))
	}

	side := BlockSide(b[3])
	if side > SideRight {
		side = SideUndefined
	}

	op := BlockOperation{
		BlockA: uint24(b[0:3]),
		Side:   side,
		Face:   side.String(),
		BlockB: uint24(b[4:7]),
	}
	op.Removed = op.BlockB == 0
	return op, nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// EchoFilter drops the verification echo a brick sends after every block packet.
// It remembers the last packet per device; safe for concurrent use.
type EchoFilter struct {
	mu   sync.Mutex
	last map[string][BlockPacketSize]byte
}

// NewEchoFilter creates an empty filter.
func NewEchoFilter() *EchoFilter {
	return &EchoFilter{last: make(map[string][BlockPacketSize]byte)}
}

// Accept reports whether packet is new for device id.
// An identical repeat of the previous packet is rejected once, then forgotten.
func (f *EchoFilter) Accept(id string, packet []byte) bool {
	if len(packet) != BlockPacketSize {
		return true
	}
	var key [BlockPacketSize]byte
	copy(key[:], packet)

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.last[id]; ok && prev == key {
		delete(f.last, id)
		return false
	}
	f.last[id] = key
	return true
}

// Forget drops the remembered packet for id.
func (f *EchoFilter) Forget(id string) {
	f.mu.Lock()
	delete(f.last, id)
	f.mu.Unlock()
}
