package cell

import (
	"strconv"
	"strings"

	"github.com/uber/h3-go/v4"
)

// Reason describes which part of a raw index failed validation.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonHighBit
	ReasonMode
	ReasonReserved
	ReasonBaseCell
	ReasonDigit
	ReasonUnusedDigit
	ReasonPentagon
	ReasonRejected
	ReasonSyntax
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "valid"
	case ReasonHighBit:
		return "high bit set"
	case ReasonMode:
		return "mode is not cell"
	case ReasonReserved:
		return "reserved bits set"
	case ReasonBaseCell:
		return "base cell out of range"
	case ReasonDigit:
		return "digit out of range"
	case ReasonUnusedDigit:
		return "digit below resolution not 7"
	case ReasonPentagon:
		return "deleted pentagon subsequence"
	case ReasonRejected:
		return "rejected by h3"
	case ReasonSyntax:
		return "not a hexadecimal index"
	default:
		return "unknown"
	}
}

// Validate decodes raw and range-checks every field of a cell index.
// It never panics, whatever the input.
func Validate(raw uint64) (Cell, error) {
	if reason := checkCell(raw); reason != ReasonNone {
		return 0, &InvalidCellError{Raw: raw, Position: -1, Reason: reason}
	}
	return Cell(raw), nil
}

// IsValid reports whether raw is a valid cell index.
func IsValid(raw uint64) bool {
	return checkCell(raw) == ReasonNone
}

// Parse validates a hexadecimal index string such as "85283473fffffff".
// An optional "0x" prefix is accepted.
func Parse(s string) (Cell, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, &InvalidCellError{Position: -1, Reason: ReasonSyntax, cause: err}
	}
	return Validate(raw)
}

// IsValidKind reports whether raw is a valid index of the given kind.
// Directed edges are checked by the H3 library; vertexes are checked
// structurally (vertex number and owning cell).
func IsValidKind(raw uint64, kind Kind) bool {
	switch kind {
	case KindCell:
		return IsValid(raw)
	case KindDirectedEdge:
		if KindOf(raw) != KindDirectedEdge {
			return false
		}
		return h3.DirectedEdge(raw).IsValid()
	case KindVertex:
		return checkVertex(raw)
	default:
		return false
	}
}

func checkCell(raw uint64) Reason {
	if raw&highBit != 0 {
		return ReasonHighBit
	}
	if KindOf(raw) != KindCell {
		return ReasonMode
	}
	if raw&reservedMask != 0 {
		return ReasonReserved
	}
	if reason := checkDigits(raw); reason != ReasonNone {
		return reason
	}
	if !h3.Cell(raw).IsValid() {
		return ReasonRejected
	}
	return ReasonNone
}

// checkDigits validates base cell, the digit path and the pentagon rule.
func checkDigits(raw uint64) Reason {
	baseCell := baseCellOf(raw)
	if baseCell >= numBaseCells {
		return ReasonBaseCell
	}
	res := resolutionOf(raw)
	for r := 1; r <= res; r++ {
		if digitOf(raw, r) == unusedDigit {
			return ReasonDigit
		}
	}
	for r := res + 1; r <= MaxResolution; r++ {
		if digitOf(raw, r) != unusedDigit {
			return ReasonUnusedDigit
		}
	}
	if pentagonBaseCells[baseCell] {
		for r := 1; r <= res; r++ {
			d := digitOf(raw, r)
			if d == 0 {
				continue
			}
			if d == 1 {
				return ReasonPentagon
			}
			break
		}
	}
	return ReasonNone
}

func checkVertex(raw uint64) bool {
	if raw&highBit != 0 || KindOf(raw) != KindVertex {
		return false
	}
	vertexNum := int((raw & reservedMask) >> reservedOffset)
	owner := (raw &^ (modeMask | reservedMask)) | (uint64(KindCell) << modeOffset)
	if checkCell(owner) != ReasonNone {
		return false
	}
	if pentagonBaseCells[baseCellOf(owner)] && h3.Cell(owner).IsPentagon() {
		return vertexNum < 5
	}
	return vertexNum < 6
}
