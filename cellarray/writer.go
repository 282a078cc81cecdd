package cellarray

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
)

// Writer assembles a CellArray of fixed length from concurrently computed
// chunks. Every slot starts null. Concurrent Set calls are safe as long as
// they target disjoint 64-slot aligned ranges, which is what the engine's
// chunking guarantees.
type Writer struct {
	values      []uint64
	validity    []byte
	valuesBuf   *memory.Buffer
	validityBuf *memory.Buffer
}

// NewWriter allocates zeroed value and validity buffers for n slots.
func NewWriter(mem memory.Allocator, n int) *Writer {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	valuesBuf := memory.NewResizableBuffer(mem)
	valuesBuf.Resize(n * arrow.Uint64SizeBytes)
	memory.Set(valuesBuf.Bytes(), 0)

	validityBuf := memory.NewResizableBuffer(mem)
	validityBuf.Resize(int(bitutil.BytesForBits(int64(n))))
	memory.Set(validityBuf.Bytes(), 0)

	return &Writer{
		values:      arrow.Uint64Traits.CastFromBytes(valuesBuf.Bytes())[:n],
		validity:    validityBuf.Bytes(),
		valuesBuf:   valuesBuf,
		validityBuf: validityBuf,
	}
}

// Len returns the number of slots.
func (w *Writer) Len() int {
	return len(w.values)
}

// Set stores c at slot i and marks it valid.
func (w *Writer) Set(i int, c cell.Cell) {
	w.values[i] = uint64(c)
	bitutil.SetBit(w.validity, i)
}

// Finish builds the array. The writer must not be used afterwards.
func (w *Writer) Finish() *CellArray {
	n := len(w.values)
	nulls := n - bitutil.CountSetBits(w.validity, 0, n)

	data := array.NewData(arrow.PrimitiveTypes.Uint64, n,
		[]*memory.Buffer{w.validityBuf, w.valuesBuf}, nil, nulls, 0)
	defer data.Release()

	w.release()
	return wrap(array.NewUint64Data(data))
}

// Discard frees the buffers without building an array.
func (w *Writer) Discard() {
	w.release()
}

func (w *Writer) release() {
	if w.valuesBuf != nil {
		w.valuesBuf.Release()
		w.valuesBuf = nil
	}
	if w.validityBuf != nil {
		w.validityBuf.Release()
		w.validityBuf = nil
	}
	w.values = nil
	w.validity = nil
}

// FromCells builds a CellArray without nulls from cells that are already valid.
func FromCells(mem memory.Allocator, cells []cell.Cell) *CellArray {
	w := NewWriter(mem, len(cells))
	for i, c := range cells {
		w.Set(i, c)
	}
	return w.Finish()
}

// FromOptional builds a CellArray from nullable slots.
func FromOptional(mem memory.Allocator, slots []cell.Optional) *CellArray {
	w := NewWriter(mem, len(slots))
	for i, s := range slots {
		if s.Valid {
			w.Set(i, s.Cell)
		}
	}
	return w.Finish()
}

// Nulls builds an all-null CellArray of length n.
func Nulls(mem memory.Allocator, n int) *CellArray {
	return NewWriter(mem, n).Finish()
}
