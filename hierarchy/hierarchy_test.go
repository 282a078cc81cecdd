package hierarchy

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

var (
	res5Cell  = cell.Cell(0x85283473fffffff)
	res3Cell  = cell.Cell(0x832834fffffffff)
	res0Cell  = cell.Cell(0x8029fffffffffff)
	pentagon0 = cell.Cell(0x8009fffffffffff)
)

func cells(t *testing.T, cs ...cell.Cell) *cellarray.CellArray {
	t.Helper()
	arr := cellarray.FromCells(memory.DefaultAllocator, cs)
	t.Cleanup(arr.Release)
	return arr
}

func TestParentKnownCell(t *testing.T) {
	in := cells(t, res5Cell)

	out, err := Parent(in, 3)
	require.NoError(t, err)
	defer out.Release()

	c, ok := out.Value(0)
	require.True(t, ok)
	assert.Equal(t, res3Cell, c)

	top, err := Parent(in, 0)
	require.NoError(t, err)
	defer top.Release()
	c, _ = top.Value(0)
	assert.Equal(t, res0Cell, c)
}

func TestParentCoarserCellIsNull(t *testing.T) {
	in := cellarray.FromOptional(memory.DefaultAllocator, []cell.Optional{
		cell.Some(res3Cell), {}, cell.Some(res5Cell),
	})
	defer in.Release()

	out, err := Parent(in, 4)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 3, out.Len())
	assert.True(t, out.IsNull(0))
	assert.True(t, out.IsNull(1))
	assert.False(t, out.IsNull(2))
}

func TestParentResolutionOutOfRange(t *testing.T) {
	in := cells(t, res5Cell)

	for _, res := range []int{-1, 16} {
		_, err := Parent(in, res)
		var rre *cell.ResolutionRangeError
		require.ErrorAs(t, err, &rre)
		assert.Equal(t, res, rre.Resolution)
	}
}

func TestChildrenKnownCell(t *testing.T) {
	in := cells(t, res3Cell)

	out, err := Children(in, 5)
	require.NoError(t, err)
	defer out.Release()

	require.Equal(t, 1, out.Len())
	group := out.Group(0)
	assert.Len(t, group, 49)
	assert.Contains(t, group, res5Cell)
	assert.Equal(t, []int64{0, 49}, out.Offsets)
}

func TestChildrenPentagon(t *testing.T) {
	in := cells(t, pentagon0)

	out, err := Children(in, 1)
	require.NoError(t, err)
	defer out.Release()

	assert.Len(t, out.Group(0), 6)
}

func TestChildrenNullAndFinerInputs(t *testing.T) {
	in := cellarray.FromOptional(memory.DefaultAllocator, []cell.Optional{
		cell.Some(res5Cell), {}, cell.Some(res3Cell),
	})
	defer in.Release()

	out, err := Children(in, 4)
	require.NoError(t, err)
	defer out.Release()

	assert.True(t, out.IsNull(0))
	assert.True(t, out.IsNull(1))
	assert.False(t, out.IsNull(2))
	assert.Len(t, out.Group(2), 7)
	assert.Empty(t, out.Group(0))

	la := out.Arrow()
	defer la.Release()
	assert.Equal(t, 2, la.NullN())
}

func TestParentChildInverse(t *testing.T) {
	in := cells(t, res3Cell)

	kids, err := Children(in, 6)
	require.NoError(t, err)
	defer kids.Release()

	parents, err := Parent(kids.Values, 3)
	require.NoError(t, err)
	defer parents.Release()

	for i, slot := range parents.All() {
		require.True(t, slot.Valid, "slot %d", i)
		require.Equal(t, res3Cell, slot.Cell, "slot %d", i)
	}
}

func TestChangeResolution(t *testing.T) {
	in := cells(t, res5Cell, res3Cell)

	coarse, err := ChangeResolution(in, 3)
	require.NoError(t, err)
	defer coarse.Release()
	assert.Equal(t, []cell.Cell{res3Cell, res3Cell}, coarse.Cells())

	fine, err := ChangeResolution(in, 5)
	require.NoError(t, err)
	defer fine.Release()
	got := fine.Cells()
	assert.Equal(t, res5Cell, got[0])
	assert.Equal(t, 5, got[1].Resolution())

	back, err := Parent(fine, 3)
	require.NoError(t, err)
	defer back.Release()
	c, _ := back.Value(1)
	assert.Equal(t, res3Cell, c)
}

func TestCompactUncompactRoundTrip(t *testing.T) {
	in := cells(t, res3Cell)

	expanded, err := Uncompact(in, 5)
	require.NoError(t, err)
	defer expanded.Release()
	assert.Equal(t, 49, expanded.Len())

	raws := expanded.Cells()
	for i := 1; i < len(raws); i++ {
		require.Less(t, raws[i-1], raws[i], "output must be sorted and distinct")
	}

	compacted, err := Compact(expanded)
	require.NoError(t, err)
	defer compacted.Release()
	assert.Equal(t, []cell.Cell{res3Cell}, compacted.Cells())
}

func TestCompactPentagon(t *testing.T) {
	in := cells(t, pentagon0)

	kids, err := Uncompact(in, 2)
	require.NoError(t, err)
	defer kids.Release()

	// 6 hexagon-or-pentagon children at res 1, then 6*7-1 at res 2.
	assert.Equal(t, 41, kids.Len())

	compacted, err := Compact(kids)
	require.NoError(t, err)
	defer compacted.Release()
	assert.Equal(t, []cell.Cell{pentagon0}, compacted.Cells())
}

func TestCompactDropsCoveredAndDuplicates(t *testing.T) {
	in := cellarray.FromOptional(memory.DefaultAllocator, []cell.Optional{
		cell.Some(res5Cell), cell.Some(res3Cell), {}, cell.Some(res5Cell),
	})
	defer in.Release()

	out, err := Compact(in)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []cell.Cell{res3Cell}, out.Cells())
}

func TestCompactIncompleteGroupUnchanged(t *testing.T) {
	in := cells(t, res3Cell)
	kids, err := Children(in, 4)
	require.NoError(t, err)
	defer kids.Release()

	partial := kids.Values.Slice(0, 6)
	defer partial.Release()

	out, err := Compact(partial)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, 6, out.Len())
}

func TestUncompactKeepsTargetResolution(t *testing.T) {
	in := cells(t, res5Cell, res5Cell)

	out, err := Uncompact(in, 5)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []cell.Cell{res5Cell}, out.Cells())
}

func TestUncompactFinerCellFails(t *testing.T) {
	in := cells(t, res3Cell, res5Cell)

	_, err := Uncompact(in, 4)
	var rre *cell.ResolutionRangeError
	require.ErrorAs(t, err, &rre)
	assert.Equal(t, 4, rre.Resolution)
	assert.Equal(t, 5, rre.Min)
}

func TestAllNullInput(t *testing.T) {
	in := cellarray.Nulls(memory.DefaultAllocator, 130)
	defer in.Release()

	out, err := Parent(in, 2)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, 130, out.Len())
	assert.Equal(t, 130, out.NullCount())

	kids, err := Children(in, 2)
	require.NoError(t, err)
	defer kids.Release()
	assert.Equal(t, 130, kids.NullCount())
	assert.Zero(t, kids.Values.Len())

	compacted, err := Compact(in)
	require.NoError(t, err)
	defer compacted.Release()
	assert.Zero(t, compacted.Len())
}

func TestDeterministicAcrossWorkers(t *testing.T) {
	base := cells(t, res3Cell)
	expanded, err := Uncompact(base, 7)
	require.NoError(t, err)
	defer expanded.Release()

	ref, err := Parent(expanded, 4, engine.WithWorkers(1))
	require.NoError(t, err)
	defer ref.Release()

	refCompact, err := Compact(expanded, engine.WithWorkers(1))
	require.NoError(t, err)
	defer refCompact.Release()

	for _, workers := range []int{2, 8} {
		got, err := Parent(expanded, 4, engine.WithWorkers(workers), engine.WithChunkSize(64))
		require.NoError(t, err)
		assert.True(t, ref.Equal(got), "parent workers=%d", workers)
		got.Release()

		gotCompact, err := Compact(expanded, engine.WithWorkers(workers), engine.WithChunkSize(64))
		require.NoError(t, err)
		assert.True(t, refCompact.Equal(gotCompact), "compact workers=%d", workers)
		gotCompact.Release()
	}
}

func BenchmarkParent(b *testing.B) {
	base := cellarray.FromCells(memory.DefaultAllocator, []cell.Cell{res3Cell})
	defer base.Release()
	expanded, err := Uncompact(base, 8)
	if err != nil {
		b.Fatal(err)
	}
	defer expanded.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := Parent(expanded, 4)
		if err != nil {
			b.Fatal(err)
		}
		out.Release()
	}
}

func TestChangeResolutionDeterministicAcrossWorkers(t *testing.T) {
	base := cells(t, res3Cell)
	expanded, err := Uncompact(base, 6)
	require.NoError(t, err)
	defer expanded.Release()

	slots := make([]cell.Optional, 0, expanded.Len())
	for i, slot := range expanded.All() {
		if i%5 == 2 {
			slot = cell.Optional{}
		}
		slots = append(slots, slot)
	}
	in := cellarray.FromOptional(memory.DefaultAllocator, slots)
	defer in.Release()

	for _, res := range []int{4, 6, 8} {
		ref, err := ChangeResolution(in, res, engine.WithWorkers(1))
		require.NoError(t, err)
		assert.Equal(t, in.NullCount(), ref.NullCount())

		for _, workers := range []int{2, 4, 8} {
			got, err := ChangeResolution(in, res, engine.WithWorkers(workers), engine.WithChunkSize(64))
			require.NoError(t, err)
			assert.True(t, ref.Equal(got), "res=%d workers=%d", res, workers)
			got.Release()
		}
		ref.Release()
	}
}
