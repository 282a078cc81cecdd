package cellarray

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
)

// List is a nested result with one variable-length group of cells per input
// slot. Group i is Values[Offsets[i]:Offsets[i+1]]; a null group is empty.
type List struct {
	Values  *CellArray
	Offsets []int64
	Valid   []bool
}

// ListPart holds the groups computed for one chunk of input slots.
type ListPart struct {
	Groups [][]cell.Cell
	Valid  []bool
}

// AssembleList concatenates chunk parts in order into a List.
func AssembleList(mem memory.Allocator, parts []ListPart) *List {
	rows, total := 0, 0
	for _, p := range parts {
		rows += len(p.Groups)
		for _, g := range p.Groups {
			total += len(g)
		}
	}

	l := &List{
		Offsets: make([]int64, 1, rows+1),
		Valid:   make([]bool, 0, rows),
	}
	w := NewWriter(mem, total)
	pos := 0
	for _, p := range parts {
		for i, g := range p.Groups {
			for _, c := range g {
				w.Set(pos, c)
				pos++
			}
			l.Offsets = append(l.Offsets, int64(pos))
			l.Valid = append(l.Valid, p.Valid[i])
		}
	}
	l.Values = w.Finish()
	return l
}

// Len returns the number of groups.
func (l *List) Len() int {
	return len(l.Valid)
}

// IsNull reports whether group i is null.
func (l *List) IsNull(i int) bool {
	return !l.Valid[i]
}

// NullCount returns the number of null groups.
func (l *List) NullCount() int {
	n := 0
	for _, v := range l.Valid {
		if !v {
			n++
		}
	}
	return n
}

// Group returns the cells of group i.
func (l *List) Group(i int) []cell.Cell {
	lo, hi := l.Offsets[i], l.Offsets[i+1]
	out := make([]cell.Cell, 0, hi-lo)
	for j := lo; j < hi; j++ {
		c, _ := l.Values.Value(int(j))
		out = append(out, c)
	}
	return out
}

// Release releases the flattened values.
func (l *List) Release() {
	l.Values.Release()
}

// Arrow returns the list as an Arrow LargeList<uint64> array. The caller
// must release it.
func (l *List) Arrow() *array.LargeList {
	n := l.Len()
	bitmap := make([]byte, bitutil.BytesForBits(int64(n)))
	nulls := 0
	for i, v := range l.Valid {
		if v {
			bitutil.SetBit(bitmap, i)
		} else {
			nulls++
		}
	}

	data := array.NewData(arrow.LargeListOf(arrow.PrimitiveTypes.Uint64), n,
		[]*memory.Buffer{
			memory.NewBufferBytes(bitmap),
			memory.NewBufferBytes(arrow.Int64Traits.CastToBytes(l.Offsets)),
		},
		[]arrow.ArrayData{l.Values.arr.Data()}, nulls, 0)
	defer data.Release()
	return array.NewLargeListData(data)
}
