package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Connecting", StateConnecting.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestBluetoothState(t *testing.T) {
	// Ordinals are part of the host contract
	assert.Equal(t, 0, int(BluetoothUnknown))
	assert.Equal(t, 4, int(BluetoothPoweredOff))
	assert.Equal(t, 5, int(BluetoothPoweredOn))

	assert.Equal(t, "poweredOn", BluetoothPoweredOn.String())
	assert.Equal(t, "unauthorized", BluetoothUnauthorized.String())

	assert.True(t, BluetoothPoweredOn.Available())
	for _, s := range []BluetoothState{BluetoothUnknown, BluetoothResetting, BluetoothUnsupported, BluetoothUnauthorized, BluetoothPoweredOff} {
		assert.False(t, s.Available(), "%s MUST NOT be available", s)
	}
}

func TestParseCharacteristic(t *testing.T) {
	c, err := ParseCharacteristic(" Voltage ")
	require.NoError(t, err)
	assert.Equal(t, CharacteristicVoltage, c)

	_, err = ParseCharacteristic("heart-rate")
	assert.ErrorContains(t, err, "unknown characteristic")
}

func TestErrorKinds(t *testing.T) {
	t.Run("errors.Is compares by kind", func(t *testing.T) {
		err := Errorf(Timeout, "connect to %s", "AA:BB")
		assert.True(t, errors.Is(err, ErrTimeout))
		assert.False(t, errors.Is(err, ErrCancelled))
		assert.Equal(t, "Timeout: connect to AA:BB", err.Error())
	})

	t.Run("KindOf unwraps", func(t *testing.T) {
		wrapped := fmt.Errorf("dispatch: %w", ErrUnknownDevice)
		assert.Equal(t, UnknownDevice, KindOf(wrapped))
		assert.True(t, IsKind(wrapped, UnknownDevice))
		assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
		assert.Equal(t, ErrorKind(""), KindOf(nil))
	})

	t.Run("nil receiver", func(t *testing.T) {
		var e *Error
		assert.Equal(t, "<nil>", e.Error())
		assert.False(t, e.Is(ErrTimeout))
	})
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		msg  string
		kind ErrorKind
	}{
		{"central manager has invalid state: have=4 want=5: is Bluetooth turned on?", RadioUnavailable},
		{"device not connected", NotConnected},
		{"device already connected", AlreadyConnected},
		{"context deadline exceeded", Timeout},
		{"context canceled", Cancelled},
		{"something else", ""},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := NormalizeError(errors.New(tt.msg))
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Contains(t, err.Error(), tt.msg, "original message MUST be preserved")
		})
	}

	assert.Nil(t, NormalizeError(nil))
	assert.Same(t, ErrTimeout, NormalizeError(ErrTimeout).(*Error))
}
