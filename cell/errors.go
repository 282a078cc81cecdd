package cell

import (
	"fmt"
)

// InvalidCellError is returned when a raw value does not decode to a valid cell.
//
// Position is the offset of the value in its input sequence, or -1 when the
// value was validated on its own.
type InvalidCellError struct {
	Raw      uint64
	Position int
	Reason   Reason
	cause    error
}

func (e *InvalidCellError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("invalid cell index %#x at position %d: %s", e.Raw, e.Position, e.Reason)
	}
	return fmt.Sprintf("invalid cell index %#x: %s", e.Raw, e.Reason)
}

func (e *InvalidCellError) Unwrap() error { return e.cause }

// At returns a copy of e carrying the given input position.
func (e *InvalidCellError) At(position int) *InvalidCellError {
	cp := *e
	cp.Position = position
	return &cp
}

// ResolutionRangeError is returned when a requested resolution lies outside
// the allowed interval. It always fails the whole call.
type ResolutionRangeError struct {
	Resolution int
	Min        int
	Max        int
}

func (e *ResolutionRangeError) Error() string {
	return fmt.Sprintf("resolution %d outside [%d, %d]", e.Resolution, e.Min, e.Max)
}

// CheckResolution returns a *ResolutionRangeError unless res is in [0, 15].
func CheckResolution(res int) error {
	if res < 0 || res > MaxResolution {
		return &ResolutionRangeError{Resolution: res, Min: 0, Max: MaxResolution}
	}
	return nil
}

// AmbiguityError is returned when conflicting values map to the same output slot.
type AmbiguityError struct {
	Cell        Cell
	Other       Cell
	Existing    string
	Conflicting string
}

func (e *AmbiguityError) Error() string {
	if e.Other != 0 && e.Other != e.Cell {
		return fmt.Sprintf("ambiguous value for cell %s overlapping %s: %s vs %s",
			e.Cell, e.Other, e.Existing, e.Conflicting)
	}
	return fmt.Sprintf("ambiguous value for cell %s: %s vs %s", e.Cell, e.Existing, e.Conflicting)
}

// StaleIndexError is returned when an index is queried after the column it
// was built from has been replaced.
type StaleIndexError struct {
	Built   uint64
	Current uint64
}

func (e *StaleIndexError) Error() string {
	return fmt.Sprintf("stale index: built at generation %d, column is at generation %d", e.Built, e.Current)
}
