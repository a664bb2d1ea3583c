// Package structure tracks the block structure built on a LOGITOW brick.
//
// Each brick reports block operations as (blockA, face, blockB) triples. A Structure
// applies them: an added block is placed next to blockA on the structure direction that
// face maps to, taking its own orientation from blockA; a removal detaches whatever sits
// on that face together with every block attached beyond it. A Structure is owned by a
// single goroutine and is not safe for concurrent use.
package structure

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/logitow/blebridge/internal/protocol"
)

var (
	ErrUnknownBlock     = errors.New("block is not part of the structure")
	ErrNothingAttached  = errors.New("no block attached on that face")
	ErrUndefinedFace    = errors.New("undefined attach face")
	ErrInvalidOperation = errors.New("invalid block operation")
	ErrInvalidRotation  = errors.New("rotation must be a multiple of 90 degrees")
	ErrInvalidStructure = errors.New("invalid structure")
)

// Code returns the callback error code of a structure error, or "" for other errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnknownBlock):
		return "UnknownBlock"
	case errors.Is(err, ErrNothingAttached):
		return "NothingAttached"
	case errors.Is(err, ErrUndefinedFace):
		return "UndefinedFace"
	case errors.Is(err, ErrInvalidOperation):
		return "InvalidOperation"
	case errors.Is(err, ErrInvalidRotation):
		return "InvalidRotation"
	case errors.Is(err, ErrInvalidStructure):
		return "InvalidStructure"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	}
	return ""
}

// Structure is the set of blocks attached to one brick.
type Structure struct {
	ID        string   `json:"id"`
	Device    string   `json:"device,omitempty"`
	Blocks    []*Block `json:"blocks"`
	Rotations []Vec3   `json:"rotations,omitempty"`
}

// Change describes the effect of one applied block operation.
type Change struct {
	Operation protocol.BlockOperation
	// Block is the block added, or the block detached from BlockA.
	Block      Block
	Coordinate Vec3
	// Removed lists every block that left the structure, in removal order.
	Removed []uint32
}

// New creates a structure holding only the base block.
func New(deviceID string) *Structure {
	return &Structure{
		ID:     newID(),
		Device: deviceID,
		Blocks: []*Block{{ID: BaseBlockID, Sides: reference}},
	}
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Block returns the block with id.
func (s *Structure) Block(id uint32) (*Block, bool) {
	for _, b := range s.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// Len returns the number of blocks, base included.
func (s *Structure) Len() int {
	return len(s.Blocks)
}

// Coordinate returns where b sits once the structure rotations are applied.
func (s *Structure) Coordinate(b *Block) Vec3 {
	p := b.Position
	for _, r := range s.Rotations {
		p = rotatePoint(p, r)
	}
	return p
}

// Apply applies a decoded block operation.
// Operations naming a blockA outside the structure fail with ErrUnknownBlock and leave it unchanged.
func (s *Structure) Apply(op protocol.BlockOperation) (Change, error) {
	a, ok := s.Block(op.BlockA)
	if !ok {
		return Change{}, fmt.Errorf("%w: %d", ErrUnknownBlock, op.BlockA)
	}
	if op.Removed {
		return s.remove(op, a)
	}
	return s.add(op, a)
}

func (s *Structure) add(op protocol.BlockOperation, a *Block) (Change, error) {
	dir := a.Sides.Direction(op.Side)
	if dir == protocol.SideUndefined {
		return Change{}, fmt.Errorf("%w: block %d face %s", ErrUndefinedFace, a.ID, op.Side)
	}
	if op.BlockB == BaseBlockID || op.BlockB == a.ID || s.isAncestor(op.BlockB, a) {
		return Change{}, fmt.Errorf("%w: cannot attach %d to %d", ErrInvalidOperation, op.BlockB, a.ID)
	}

	b := &Block{
		ID:       op.BlockB,
		Position: a.Position.Add(step[dir]),
		Parent:   a.ID,
		Face:     op.Side,
		Sides:    childOrientation(a, op.Side),
	}

	var removed []uint32
	if occupant := s.blockAt(b.Position); occupant != nil {
		if s.isAncestor(occupant.ID, a) {
			return Change{}, fmt.Errorf("%w: %s is held by %d", ErrInvalidOperation, b.Position, occupant.ID)
		}
		removed = append(removed, s.detach(occupant)...)
	}
	if old, ok := s.Block(b.ID); ok {
		removed = append(removed, s.detach(old)...)
	}

	s.Blocks = append(s.Blocks, b)
	return Change{Operation: op, Block: *b, Coordinate: s.Coordinate(b), Removed: removed}, nil
}

func (s *Structure) remove(op protocol.BlockOperation, a *Block) (Change, error) {
	var child *Block
	for _, b := range s.Blocks {
		if b.ID != BaseBlockID && b.Parent == a.ID && b.Face == op.Side {
			child = b
			break
		}
	}
	if child == nil {
		return Change{}, fmt.Errorf("%w: block %d face %s", ErrNothingAttached, a.ID, op.Side)
	}

	detached := *child
	coord := s.Coordinate(child)
	return Change{Operation: op, Block: detached, Coordinate: coord, Removed: s.detach(child)}, nil
}

// childOrientation derives the orientation of a block attached to parent on face.
func childOrientation(parent *Block, face protocol.BlockSide) Orientation {
	if face == protocol.SideFront {
		return parent.Sides
	}
	o := parent.Sides.Rotated(attachRotation[face])
	if parent.ID != BaseBlockID && (parent.Face == protocol.SideLeft || parent.Face == protocol.SideRight) {
		o = o.Rotated(Vec3{Y: 90})
	}
	return o
}

func (s *Structure) blockAt(p Vec3) *Block {
	for _, b := range s.Blocks {
		if b.Position == p {
			return b
		}
	}
	return nil
}

// isAncestor reports whether id is b or lies on the path from b to the base.
func (s *Structure) isAncestor(id uint32, b *Block) bool {
	for seen := 0; seen <= len(s.Blocks); seen++ {
		if b.ID == id {
			return true
		}
		if b.ID == BaseBlockID {
			return false
		}
		parent, ok := s.Block(b.Parent)
		if !ok {
			return false
		}
		b = parent
	}
	return false
}

// detach removes b and every block attached beyond it, returning their ids.
// The base block is never removed.
func (s *Structure) detach(b *Block) []uint32 {
	if b.ID == BaseBlockID {
		return nil
	}

	gone := map[uint32]bool{b.ID: true}
	order := []uint32{b.ID}
	for changed := true; changed; {
		changed = false
		for _, c := range s.Blocks {
			if !gone[c.ID] && c.ID != BaseBlockID && gone[c.Parent] {
				gone[c.ID] = true
				order = append(order, c.ID)
				changed = true
			}
		}
	}

	kept := s.Blocks[:0]
	for _, c := range s.Blocks {
		if !gone[c.ID] {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(s.Blocks); i++ {
		s.Blocks[i] = nil
	}
	s.Blocks = kept
	return order
}

// Rotate turns the whole structure by angles, each a multiple of 90 degrees.
// Consecutive turns around the same single axis are merged.
func (s *Structure) Rotate(angles Vec3) error {
	if angles.X%90 != 0 || angles.Y%90 != 0 || angles.Z%90 != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRotation, angles)
	}
	if angles.IsZero() {
		return nil
	}

	if n := len(s.Rotations); n > 0 {
		last := s.Rotations[n-1]
		if axis := singleAxis(angles); axis != 0 && axis == singleAxis(last) {
			sum := last.Add(angles)
			sum = Vec3{X: sum.X % 360, Y: sum.Y % 360, Z: sum.Z % 360}
			if sum.IsZero() {
				s.Rotations = s.Rotations[:n-1]
			} else {
				s.Rotations[n-1] = sum
			}
			return nil
		}
	}
	s.Rotations = append(s.Rotations, angles)
	return nil
}

// singleAxis returns 1, 2 or 3 when only x, y or z is non-zero, otherwise 0.
func singleAxis(v Vec3) int {
	switch {
	case v.X != 0 && v.Y == 0 && v.Z == 0:
		return 1
	case v.X == 0 && v.Y != 0 && v.Z == 0:
		return 2
	case v.X == 0 && v.Y == 0 && v.Z != 0:
		return 3
	}
	return 0
}

// Clone returns a deep copy.
func (s *Structure) Clone() *Structure {
	c := &Structure{
		ID:        s.ID,
		Device:    s.Device,
		Blocks:    make([]*Block, len(s.Blocks)),
		Rotations: append([]Vec3(nil), s.Rotations...),
	}
	for i, b := range s.Blocks {
		cp := *b
		c.Blocks[i] = &cp
	}
	return c
}

// Validate checks that the structure is a tree rooted at the base block.
func (s *Structure) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidStructure)
	}
	seen := make(map[uint32]bool, len(s.Blocks))
	for _, b := range s.Blocks {
		if b == nil {
			return fmt.Errorf("%w: empty block entry", ErrInvalidStructure)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: block %d listed twice", ErrInvalidStructure, b.ID)
		}
		seen[b.ID] = true
	}
	if !seen[BaseBlockID] {
		return fmt.Errorf("%w: missing base block", ErrInvalidStructure)
	}
	for _, b := range s.Blocks {
		if b.ID == BaseBlockID {
			continue
		}
		if !seen[b.Parent] {
			return fmt.Errorf("%w: block %d attached to unknown block %d", ErrInvalidStructure, b.ID, b.Parent)
		}
		if b.Face <= protocol.SideUndefined || b.Face > protocol.SideRight {
			return fmt.Errorf("%w: block %d has face %d", ErrInvalidStructure, b.ID, b.Face)
		}
		if !s.isAncestor(BaseBlockID, b) {
			return fmt.Errorf("%w: block %d is not connected to the base", ErrInvalidStructure, b.ID)
		}
	}
	for _, r := range s.Rotations {
		if r.X%90 != 0 || r.Y%90 != 0 || r.Z%90 != 0 {
			return fmt.Errorf("%w: rotation %s", ErrInvalidStructure, r)
		}
	}
	return nil
}

// Summary renders the structure for callbacks and scripts.
func (s *Structure) Summary() map[string]any {
	blocks := make([]any, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		blocks = append(blocks, s.BlockSummary(b))
	}
	return map[string]any{
		"id":        s.ID,
		"device":    s.Device,
		"blocks":    blocks,
		"rotations": len(s.Rotations),
	}
}

// BlockSummary renders one block with its rotated coordinate.
func (s *Structure) BlockSummary(b *Block) map[string]any {
	c := s.Coordinate(b)
	return map[string]any{
		"id":     b.ID,
		"color":  b.Color(),
		"parent": b.Parent,
		"face":   b.Face.String(),
		"x":      c.X,
		"y":      c.Y,
		"z":      c.Z,
	}
}
