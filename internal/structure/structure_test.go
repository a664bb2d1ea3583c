package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logitow/blebridge/internal/protocol"
)

func attach(a uint32, side protocol.BlockSide, b uint32) protocol.BlockOperation {
	return protocol.BlockOperation{BlockA: a, Side: side, Face: side.String(), BlockB: b}
}

func detachOp(a uint32, side protocol.BlockSide) protocol.BlockOperation {
	return protocol.BlockOperation{BlockA: a, Side: side, Face: side.String(), Removed: true}
}

func TestNewStructureHoldsBase(t *testing.T) {
	s := New("aa")

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "aa", s.Device)
	require.Equal(t, 1, s.Len())
	base, ok := s.Block(BaseBlockID)
	require.True(t, ok)
	assert.Equal(t, ReferenceOrientation(), base.Sides)
	assert.NotEqual(t, s.ID, New("aa").ID, "structure ids MUST be unique")
	assert.NoError(t, s.Validate())
}

func TestAttachToBase(t *testing.T) {
	tests := []struct {
		side     protocol.BlockSide
		expected Vec3
	}{
		{protocol.SideTop, Vec3{Y: 1}},
		{protocol.SideBottom, Vec3{Y: -1}},
		{protocol.SideFront, Vec3{Z: 1}},
		{protocol.SideBack, Vec3{Z: -1}},
		{protocol.SideLeft, Vec3{X: 1}},
		{protocol.SideRight, Vec3{X: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.side.String(), func(t *testing.T) {
			s := New("aa")
			change, err := s.Apply(attach(BaseBlockID, tt.side, 100))
			require.NoError(t, err)

			assert.Equal(t, uint32(100), change.Block.ID)
			assert.Equal(t, tt.expected, change.Coordinate)
			assert.Equal(t, BaseBlockID, change.Block.Parent)
			assert.Empty(t, change.Removed)
			assert.Equal(t, 2, s.Len())
		})
	}
}

func TestChainFollowsOrientation(t *testing.T) {
	// A block on the base top is tipped forward: its front face points up, its top face back.
	s := New("aa")
	_, err := s.Apply(attach(BaseBlockID, protocol.SideTop, 100))
	require.NoError(t, err)

	up, err := s.Apply(attach(100, protocol.SideFront, 200))
	require.NoError(t, err)
	assert.Equal(t, Vec3{Y: 2}, up.Coordinate)

	back, err := s.Apply(attach(100, protocol.SideTop, 300))
	require.NoError(t, err)
	assert.Equal(t, Vec3{Y: 1, Z: -1}, back.Coordinate)

	b200, _ := s.Block(200)
	b100, _ := s.Block(100)
	assert.Equal(t, b100.Sides, b200.Sides, "a block on the front face MUST keep its parent orientation")
}

func TestRemovalDetachesSubtree(t *testing.T) {
	s := New("aa")
	for _, op := range []protocol.BlockOperation{
		attach(BaseBlockID, protocol.SideTop, 100),
		attach(100, protocol.SideFront, 200),
		attach(200, protocol.SideFront, 300),
		attach(BaseBlockID, protocol.SideFront, 400),
	} {
		_, err := s.Apply(op)
		require.NoError(t, err)
	}

	change, err := s.Apply(detachOp(BaseBlockID, protocol.SideTop))
	require.NoError(t, err)

	assert.Equal(t, uint32(100), change.Block.ID)
	assert.Equal(t, Vec3{Y: 1}, change.Coordinate)
	assert.Equal(t, []uint32{100, 200, 300}, change.Removed)
	assert.Equal(t, 2, s.Len())
	_, ok := s.Block(400)
	assert.True(t, ok, "blocks on other faces MUST stay")
	assert.NoError(t, s.Validate())
}

func TestRejectedOperationsLeaveStructureUnchanged(t *testing.T) {
	tests := []struct {
		name string
		op   protocol.BlockOperation
		err  error
		code string
	}{
		{"unknown block A", attach(999, protocol.SideTop, 200), ErrUnknownBlock, "UnknownBlock"},
		{"unknown block A on removal", detachOp(999, protocol.SideTop), ErrUnknownBlock, "UnknownBlock"},
		{"nothing on face", detachOp(BaseBlockID, protocol.SideBottom), ErrNothingAttached, "NothingAttached"},
		{"undefined face", attach(BaseBlockID, protocol.SideUndefined, 200), ErrUndefinedFace, "UndefinedFace"},
		{"attach to itself", attach(100, protocol.SideFront, 100), ErrInvalidOperation, "InvalidOperation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("aa")
			_, err := s.Apply(attach(BaseBlockID, protocol.SideTop, 100))
			require.NoError(t, err)
			before := s.Clone()

			_, err = s.Apply(tt.op)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.code, Code(err))
			assert.Equal(t, before, s, "a rejected operation MUST NOT modify the structure")
		})
	}
}

func TestDuplicatesAreReplaced(t *testing.T) {
	t.Run("same id moved", func(t *testing.T) {
		s := New("aa")
		_, err := s.Apply(attach(BaseBlockID, protocol.SideTop, 100))
		require.NoError(t, err)

		change, err := s.Apply(attach(BaseBlockID, protocol.SideFront, 100))
		require.NoError(t, err)

		assert.Equal(t, []uint32{100}, change.Removed)
		assert.Equal(t, 2, s.Len())
		b, _ := s.Block(100)
		assert.Equal(t, Vec3{Z: 1}, b.Position)
	})

	t.Run("same position taken", func(t *testing.T) {
		s := New("aa")
		_, err := s.Apply(attach(BaseBlockID, protocol.SideTop, 100))
		require.NoError(t, err)

		change, err := s.Apply(attach(BaseBlockID, protocol.SideTop, 200))
		require.NoError(t, err)

		assert.Equal(t, []uint32{100}, change.Removed)
		_, ok := s.Block(100)
		assert.False(t, ok)
	})
}

func TestRotate(t *testing.T) {
	s := New("aa")
	_, err := s.Apply(attach(BaseBlockID, protocol.SideFront, 100))
	require.NoError(t, err)
	b, _ := s.Block(100)

	require.NoError(t, s.Rotate(Vec3{Y: 90}))
	assert.Equal(t, Vec3{X: -1}, s.Coordinate(b))

	require.NoError(t, s.Rotate(Vec3{Y: 90}))
	assert.Equal(t, []Vec3{{Y: 180}}, s.Rotations, "turns around one axis MUST merge")
	assert.Equal(t, Vec3{Z: -1}, s.Coordinate(b))

	require.NoError(t, s.Rotate(Vec3{Y: 180}))
	assert.Empty(t, s.Rotations, "a full turn MUST cancel out")
	assert.Equal(t, Vec3{Z: 1}, s.Coordinate(b))

	require.NoError(t, s.Rotate(Vec3{X: 90}))
	require.NoError(t, s.Rotate(Vec3{Z: 90}))
	assert.Len(t, s.Rotations, 2, "turns around different axes MUST be kept apart")

	added, err := s.Apply(attach(BaseBlockID, protocol.SideTop, 200))
	require.NoError(t, err)
	assert.Equal(t, s.Coordinate(&Block{Position: Vec3{Y: 1}}), added.Coordinate, "new blocks MUST follow the structure rotation")

	err = s.Rotate(Vec3{X: 45})
	assert.ErrorIs(t, err, ErrInvalidRotation)
	assert.Equal(t, "InvalidRotation", Code(err))
}

func TestOrientationTurns(t *testing.T) {
	ref := ReferenceOrientation()

	assert.Equal(t, ref, ref.Rotated(Vec3{Z: 90}).Rotated(Vec3{Z: -90}))
	assert.Equal(t, ref, ref.Rotated(Vec3{X: 360}))
	assert.Equal(t, ref, ref.Rotated(Vec3{Y: 180}).Rotated(Vec3{Y: 180}))

	tipped := ref.Rotated(Vec3{X: -90})
	assert.Equal(t, protocol.SideTop, tipped.Direction(protocol.SideFront))
	assert.Equal(t, protocol.SideBack, tipped.Direction(protocol.SideTop))
	assert.Equal(t, protocol.SideLeft, tipped.Direction(protocol.SideLeft), "x turns MUST keep the side faces")
	assert.Equal(t, protocol.SideUndefined, tipped.Direction(protocol.SideUndefined))
}

func TestColorOf(t *testing.T) {
	tests := map[uint32]string{
		BaseBlockID: "base",
		EndBlockID:  "end",
		1500000:     "white",
		2097152:     "black",
		3145728:     "red",
		6291456:     "green",
		10485760:    "pink",
	}
	for id, color := range tests {
		assert.Equal(t, color, ColorOf(id), "block %d", id)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Structure)
	}{
		{"missing id", func(s *Structure) { s.ID = "" }},
		{"missing base", func(s *Structure) { s.Blocks = s.Blocks[1:] }},
		{"duplicate block", func(s *Structure) { s.Blocks = append(s.Blocks, s.Blocks[1]) }},
		{"orphan", func(s *Structure) { s.Blocks[1].Parent = 42 }},
		{"bad face", func(s *Structure) { s.Blocks[1].Face = protocol.SideUndefined }},
		{"bad rotation", func(s *Structure) { s.Rotations = []Vec3{{Z: 30}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("aa")
			_, err := s.Apply(attach(BaseBlockID, protocol.SideTop, 100))
			require.NoError(t, err)

			tt.mutate(s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidStructure)
		})
	}
}
