package cellarray

import (
	"fmt"
	"iter"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
)

// CellArray is an immutable, nullable sequence of valid H3 cells stored as an
// Arrow uint64 array. Every non-null slot holds a valid cell; null slots are
// distinct from any cell value.
//
// CellArray is reference counted like the Arrow array it wraps: call Release
// when done. Kernels never modify their input and always return a new array.
type CellArray struct {
	arr *array.Uint64
}

// wrap takes ownership of one reference of arr.
func wrap(arr *array.Uint64) *CellArray {
	return &CellArray{arr: arr}
}

// Len returns the number of slots.
func (a *CellArray) Len() int {
	return a.arr.Len()
}

// NullCount returns the number of null slots.
func (a *CellArray) NullCount() int {
	return a.arr.NullN()
}

// IsNull reports whether slot i is null.
func (a *CellArray) IsNull(i int) bool {
	return a.arr.IsNull(i)
}

// Value returns the cell at slot i and false when the slot is null.
func (a *CellArray) Value(i int) (cell.Cell, bool) {
	if a.arr.IsNull(i) {
		return 0, false
	}
	return cell.Cell(a.arr.Value(i)), true
}

// All yields (index, slot) pairs in array order.
func (a *CellArray) All() iter.Seq2[int, cell.Optional] {
	return func(yield func(int, cell.Optional) bool) {
		for i := 0; i < a.arr.Len(); i++ {
			var slot cell.Optional
			if a.arr.IsValid(i) {
				slot = cell.Some(cell.Cell(a.arr.Value(i)))
			}
			if !yield(i, slot) {
				return
			}
		}
	}
}

// Cells returns the non-null cells in array order.
func (a *CellArray) Cells() []cell.Cell {
	out := make([]cell.Cell, 0, a.arr.Len()-a.arr.NullN())
	values := a.arr.Uint64Values()
	for i, v := range values {
		if a.arr.IsValid(i) {
			out = append(out, cell.Cell(v))
		}
	}
	return out
}

// Retain increases the reference count.
func (a *CellArray) Retain() {
	a.arr.Retain()
}

// Release decreases the reference count; buffers are freed when it reaches zero.
func (a *CellArray) Release() {
	a.arr.Release()
}

// Arrow returns the underlying Arrow array with an extra reference the caller
// must release.
func (a *CellArray) Arrow() *array.Uint64 {
	a.arr.Retain()
	return a.arr
}

// Slice returns a zero-copy view of slots [i, j).
func (a *CellArray) Slice(i, j int) *CellArray {
	return wrap(array.NewSlice(a.arr, int64(i), int64(j)).(*array.Uint64))
}

// Equal reports whether both arrays hold the same slots.
func (a *CellArray) Equal(b *CellArray) bool {
	return array.Equal(a.arr, b.arr)
}

// ResolutionRange returns the coarsest and finest resolution present.
// The second result is false when the array has no non-null slot.
func (a *CellArray) ResolutionRange() (cell.ResolutionRange, bool) {
	rng := cell.ResolutionRange{Min: cell.MaxResolution + 1, Max: -1}
	for i, v := range a.arr.Uint64Values() {
		if a.arr.IsNull(i) {
			continue
		}
		res := cell.Cell(v).Resolution()
		if res < rng.Min {
			rng.Min = res
		}
		if res > rng.Max {
			rng.Max = res
		}
	}
	if rng.Max < 0 {
		return cell.ResolutionRange{}, false
	}
	return rng, true
}

// Strings formats every slot as a hex index; null slots become "".
func (a *CellArray) Strings() []string {
	out := make([]string, a.arr.Len())
	for i, slot := range a.All() {
		if slot.Valid {
			out[i] = slot.Cell.String()
		}
	}
	return out
}

func (a *CellArray) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, slot := range a.All() {
		if i > 0 {
			sb.WriteString(" ")
		}
		if slot.Valid {
			sb.WriteString(slot.Cell.String())
		} else {
			sb.WriteString(array.NullValueStr)
		}
	}
	sb.WriteString("]")
	return fmt.Sprintf("CellArray%s", sb.String())
}
