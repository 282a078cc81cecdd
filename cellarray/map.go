package cellarray

import (
	"fmt"
	"time"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// Map applies fn to every non-null slot of in, in parallel. Null inputs and
// slots where fn returns false come out null. Output order matches input.
func Map(kernel string, in *CellArray, fn func(cell.Cell) (cell.Cell, bool, error), opts ...engine.Option) (*CellArray, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	w := NewWriter(e.Allocator(), in.Len())
	err := e.ForEachChunk(in.Len(), func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			c, ok := in.Value(i)
			if !ok {
				continue
			}
			out, keep, err := fn(c)
			if err != nil {
				return fmt.Errorf("position %d: %w", i, err)
			}
			if keep {
				w.Set(i, out)
			}
		}
		return nil
	})
	if err != nil {
		w.Discard()
		return nil, e.Fail(kernel, err)
	}

	out := w.Finish()
	e.Observe(kernel, out.Len(), out.NullCount(), start)
	return out, nil
}

// MapList applies fn to every non-null slot of in and collects one group per
// slot. Null inputs and slots where fn returns false give null groups.
func MapList(kernel string, in *CellArray, fn func(cell.Cell) ([]cell.Cell, bool, error), opts ...engine.Option) (*List, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	parts, err := engine.MapChunks(e, in.Len(), func(lo, hi int) (ListPart, error) {
		part := ListPart{
			Groups: make([][]cell.Cell, hi-lo),
			Valid:  make([]bool, hi-lo),
		}
		for i := lo; i < hi; i++ {
			c, ok := in.Value(i)
			if !ok {
				continue
			}
			group, keep, err := fn(c)
			if err != nil {
				return ListPart{}, fmt.Errorf("position %d: %w", i, err)
			}
			if keep {
				part.Groups[i-lo] = group
				part.Valid[i-lo] = true
			}
		}
		return part, nil
	})
	if err != nil {
		return nil, e.Fail(kernel, err)
	}

	out := AssembleList(e.Allocator(), parts)
	e.Observe(kernel, out.Len(), out.NullCount(), start)
	return out, nil
}
