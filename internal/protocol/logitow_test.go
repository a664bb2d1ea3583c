package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoltageRequest(t *testing.T) {
	assert.Equal(t, []byte{0xAD, 0x02}, VoltageRequest())
}

func TestDecodeVoltage(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    float64
		wantErr bool
	}{
		{name: "full charge", payload: []byte{2, 1}, want: 2.1},
		{name: "nominal", payload: []byte{1, 8}, want: 1.8},
		{name: "trailing bytes ignored", payload: []byte{1, 5, 0xFF}, want: 1.5},
		{name: "too short", payload: []byte{1}, wantErr: true},
		{name: "empty", payload: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeVoltage(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestIsLowCharge(t *testing.T) {
	assert.False(t, IsLowCharge(1.8, 0))
	assert.True(t, IsLowCharge(0.1, 0), "0.1V MUST be under 5 percent of 2.1V")
	assert.True(t, IsLowCharge(0.0, DefaultLowChargeRatio))
	assert.True(t, IsLowCharge(1.6, 0.8), "custom ratio MUST be honored")
}

func TestIsLogitowName(t *testing.T) {
	assert.True(t, IsLogitowName("LOGITOW"))
	assert.True(t, IsLogitowName("logitow brick"))
	assert.False(t, IsLogitowName("Polar H10"))
	assert.False(t, IsLogitowName(""))
}

func TestDecodeBlockOperation(t *testing.T) {
	t.Run("attach", func(t *testing.T) {
		op, err := DecodeBlockOperation([]byte{0x00, 0x01, 0x02, 0x05, 0x0A, 0x0B, 0x0C})
		require.NoError(t, err)
		assert.Equal(t, uint32(0x000102), op.BlockA)
		assert.Equal(t, SideTop, op.Side)
		assert.Equal(t, "top", op.Face)
		assert.Equal(t, uint32(0x0A0B0C), op.BlockB)
		assert.False(t, op.Removed)
	})

	t.Run("removal", func(t *testing.T) {
		op, err := DecodeBlockOperation([]byte{0x12, 0x34, 0x56, 0x01, 0, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, SideBack, op.Side)
		assert.True(t, op.Removed, "zero blockB MUST mean removal")
	})

	t.Run("unknown face", func(t *testing.T) {
		op, err := DecodeBlockOperation([]byte{0, 0, 1, 9, 0, 0, 2})
		require.NoError(t, err)
		assert.Equal(t, SideUndefined, op.Side)
	})

	t.Run("wrong size", func(t *testing.T) {
		_, err := DecodeBlockOperation([]byte{1, 2, 3})
		assert.ErrorContains(t, err, "7 bytes")
	})
}

func TestEchoFilter(t *testing.T) {
	f := NewEchoFilter()
	pkt := []byte{0, 0, 1, 2, 0, 0, 2}

	assert.True(t, f.Accept("a", pkt), "first packet MUST be accepted")
	assert.False(t, f.Accept("a", pkt), "verification echo MUST be dropped")
	assert.True(t, f.Accept("a", pkt), "a third identical packet is a new operation")

	assert.True(t, f.Accept("b", pkt), "filter MUST be per device")

	f.Forget("b")
	assert.True(t, f.Accept("b", pkt))

	assert.True(t, f.Accept("a", []byte{1}), "malformed packets pass through to the decoder")
}
