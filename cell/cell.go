package cell

import (
	"fmt"
	"strconv"

	"github.com/uber/h3-go/v4"
)

// MaxResolution is the finest H3 resolution.
const MaxResolution = 15

// Bit layout of a 64-bit H3 index.
const (
	highBit = uint64(1) << 63

	modeOffset = 59
	modeMask   = uint64(0xF) << modeOffset

	reservedOffset = 56
	reservedMask   = uint64(0x7) << reservedOffset

	resolutionOffset = 52
	resolutionMask   = uint64(0xF) << resolutionOffset

	baseCellOffset = 45
	baseCellMask   = uint64(0x7F) << baseCellOffset

	digitBits = 3
	digitMask = uint64(0x7)

	numBaseCells = 122
	unusedDigit  = 7
)

// pentagonBaseCells lists the twelve base cells that are pentagons.
var pentagonBaseCells = [numBaseCells]bool{
	4: true, 14: true, 24: true, 38: true, 49: true, 58: true,
	63: true, 72: true, 83: true, 97: true, 107: true, 117: true,
}

// Kind is the mode tag stored in bits 59..62 of an H3 index.
type Kind uint8

const (
	KindUnknown      Kind = 0
	KindCell         Kind = 1
	KindDirectedEdge Kind = 2
	KindVertex       Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindCell:
		return "cell"
	case KindDirectedEdge:
		return "directed_edge"
	case KindVertex:
		return "vertex"
	default:
		return "unknown"
	}
}

// KindOf decodes the mode tag of a raw index without validating anything else.
func KindOf(raw uint64) Kind {
	switch Kind((raw & modeMask) >> modeOffset) {
	case KindCell:
		return KindCell
	case KindDirectedEdge:
		return KindDirectedEdge
	case KindVertex:
		return KindVertex
	default:
		return KindUnknown
	}
}

// Cell is an H3 cell index known to be valid.
//
// The zero value is not a valid cell. Values are obtained from Validate or,
// for indexes computed by the H3 library itself, from FromH3.
type Cell uint64

// FromH3 wraps an index produced by the H3 library. The library only returns
// valid cells from successful calls, so no validation is repeated here.
func FromH3(c h3.Cell) Cell {
	return Cell(c)
}

// Raw returns the underlying 64-bit value.
func (c Cell) Raw() uint64 {
	return uint64(c)
}

// H3 returns the cell as an h3-go value.
func (c Cell) H3() h3.Cell {
	return h3.Cell(c)
}

// Resolution returns the cell resolution in [0, 15].
func (c Cell) Resolution() int {
	return resolutionOf(uint64(c))
}

// BaseCell returns the base cell number in [0, 121].
func (c Cell) BaseCell() int {
	return baseCellOf(uint64(c))
}

// Digit returns the child digit selected at resolution r (1..15).
func (c Cell) Digit(r int) int {
	return digitOf(uint64(c), r)
}

// IsPentagon reports whether the cell is one of the twelve pentagons at its resolution.
func (c Cell) IsPentagon() bool {
	return h3.Cell(c).IsPentagon()
}

// String formats the cell as lowercase hex, the canonical H3 string form.
func (c Cell) String() string {
	return strconv.FormatUint(uint64(c), 16)
}

// GoString implements fmt.GoStringer.
func (c Cell) GoString() string {
	return fmt.Sprintf("cell.Cell(%#x)", uint64(c))
}

// Optional is one slot of a nullable cell sequence.
type Optional struct {
	Cell  Cell
	Valid bool
}

// Some returns a non-null slot.
func Some(c Cell) Optional {
	return Optional{Cell: c, Valid: true}
}

func resolutionOf(raw uint64) int {
	return int((raw & resolutionMask) >> resolutionOffset)
}

func baseCellOf(raw uint64) int {
	return int((raw & baseCellMask) >> baseCellOffset)
}

func digitOf(raw uint64, r int) int {
	return int((raw >> ((MaxResolution - r) * digitBits)) & digitMask)
}
