package structure

import (
	"fmt"

	"github.com/logitow/blebridge/internal/protocol"
)

// BaseBlockID identifies the brick itself; every structure starts with it.
const BaseBlockID uint32 = 0

// EndBlockID is the id reported by end caps.
const EndBlockID uint32 = 0xFFFFFF

// Vec3 is an integer position or rotation (in degrees) in structure space.
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// IsZero reports whether every component is zero.
func (v Vec3) IsZero() bool {
	return v == Vec3{}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z)
}

// Block is one block placed in a structure.
// Position is expressed before any structure rotation is applied.
type Block struct {
	ID       uint32             `json:"id"`
	Position Vec3               `json:"position"`
	Parent   uint32             `json:"parent"`
	Face     protocol.BlockSide `json:"face"`
	Sides    Orientation        `json:"sides"`
}

// Color returns the block color encoded in its id range.
func (b *Block) Color() string {
	return ColorOf(b.ID)
}

// ColorOf maps a block id to its color family.
func ColorOf(id uint32) string {
	switch {
	case id == BaseBlockID:
		return "base"
	case id == EndBlockID:
		return "end"
	case id >= 2097152 && id <= 3145727:
		return "black"
	case id >= 3145728 && id <= 4194303:
		return "red"
	case id >= 4194304 && id <= 5242879:
		return "orange"
	case id >= 5242880 && id <= 6291455:
		return "yellow"
	case id >= 6291456 && id <= 7340031:
		return "green"
	case id >= 7340032 && id <= 8388607:
		return "indigo"
	case id >= 8388608 && id <= 9437183:
		return "blue"
	case id >= 9437184 && id <= 10485759:
		return "purple"
	case id >= 10485760 && id <= 11534335:
		return "pink"
	default:
		return "white"
	}
}

// Orientation maps the faces a block reports onto structure directions.
// It is an unfolded cube: row 0 holds the top, row 1 left, front, right and back,
// row 2 the bottom. The face found at a cell points in the direction held by the
// same cell of the reference orientation.
type Orientation [3][4]protocol.BlockSide

var reference = Orientation{
	{protocol.SideUndefined, protocol.SideTop, protocol.SideUndefined, protocol.SideUndefined},
	{protocol.SideLeft, protocol.SideFront, protocol.SideRight, protocol.SideBack},
	{protocol.SideUndefined, protocol.SideBottom, protocol.SideUndefined, protocol.SideUndefined},
}

// ReferenceOrientation returns the orientation of the base block.
func ReferenceOrientation() Orientation {
	return reference
}

// attachRotation is the turn a block takes relative to its parent when attached to a face.
var attachRotation = map[protocol.BlockSide]Vec3{
	protocol.SideBack:   {},
	protocol.SideFront:  {},
	protocol.SideBottom: {X: 90, Y: 180},
	protocol.SideLeft:   {Y: -90, Z: -90},
	protocol.SideTop:    {X: -90},
	protocol.SideRight:  {Y: 90, Z: 90},
}

// step is one structure direction as a unit offset.
var step = map[protocol.BlockSide]Vec3{
	protocol.SideTop:    {Y: 1},
	protocol.SideBottom: {Y: -1},
	protocol.SideFront:  {Z: 1},
	protocol.SideBack:   {Z: -1},
	protocol.SideLeft:   {X: 1},
	protocol.SideRight:  {X: -1},
}

// Direction returns the structure direction face points to under o.
func (o Orientation) Direction(face protocol.BlockSide) protocol.BlockSide {
	if face == protocol.SideUndefined {
		return protocol.SideUndefined
	}
	for i := range o {
		for j := range o[i] {
			if o[i][j] == face {
				return reference[i][j]
			}
		}
	}
	return protocol.SideUndefined
}

type cell [2]int

// Quarter-turn cycles per axis, in the order cells shift on a positive turn.
var (
	cycleZ = [4]cell{{0, 1}, {1, 0}, {2, 1}, {1, 2}}
	cycleX = [4]cell{{1, 1}, {0, 1}, {1, 3}, {2, 1}}
	cycleY = [4]cell{{1, 0}, {1, 3}, {1, 2}, {1, 1}}
)

func (o Orientation) turn(cycle [4]cell, positive bool) Orientation {
	n := o
	for k := range cycle {
		next := cycle[(k+1)%4]
		if positive {
			n[cycle[k][0]][cycle[k][1]] = o[next[0]][next[1]]
		} else {
			n[next[0]][next[1]] = o[cycle[k][0]][cycle[k][1]]
		}
	}
	return n
}

// Rotated turns o by r, applied around z, then x, then y, in quarter turns.
func (o Orientation) Rotated(r Vec3) Orientation {
	for _, axis := range []struct {
		degrees int
		cycle   [4]cell
	}{{r.Z, cycleZ}, {r.X, cycleX}, {r.Y, cycleY}} {
		steps := axis.degrees / 90
		for i := 0; i < abs(steps); i++ {
			o = o.turn(axis.cycle, steps > 0)
		}
	}
	return o
}

// quarterTurns normalizes degrees into 0..3 positive quarter turns.
func quarterTurns(degrees int) int {
	return ((degrees/90)%4 + 4) % 4
}

// rotatePoint turns p around z, then y, then x by r.
func rotatePoint(p, r Vec3) Vec3 {
	for i := 0; i < quarterTurns(r.Z); i++ {
		p.X, p.Y = -p.Y, p.X
	}
	for i := 0; i < quarterTurns(r.Y); i++ {
		p.X, p.Z = -p.Z, p.X
	}
	for i := 0; i < quarterTurns(r.X); i++ {
		p.Y, p.Z = -p.Z, p.Y
	}
	return p
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
