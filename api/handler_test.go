package api

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arrowipc "github.com/VanDung-dev/H3Arrow-Engine/arrow"
	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
	"github.com/VanDung-dev/H3Arrow-Engine/geometry"
)

const (
	res5Cell = cell.Cell(0x85283473fffffff)
	res3Cell = cell.Cell(0x832834fffffffff)
)

func newTestHandler(t *testing.T) (*Handler, *Metrics) {
	t.Helper()
	exec := engine.New(engine.Config{Workers: 2})
	t.Cleanup(exec.Close)

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	m := NewMetrics("test", prometheus.NewRegistry())
	return NewHandler(HandlerConfig{Executor: exec, Logger: log, Metrics: m}), m
}

func call(t *testing.T, h *Handler, req Request, cells *cellarray.CellArray) (arrow.Record, error) {
	t.Helper()
	codec := arrowipc.NewCodec()
	payload, err := EncodeRequest(codec, req, cells)
	require.NoError(t, err)
	resp, err := h.Process(payload, "test")
	require.NoError(t, err)
	return DecodeResponse(codec, resp)
}

func sample() *cellarray.CellArray {
	return cellarray.FromOptional(memory.DefaultAllocator, []cell.Optional{cell.Some(res5Cell), {}})
}

func TestHandlerParent(t *testing.T) {
	h, m := newTestHandler(t)
	in := sample()
	defer in.Release()

	rec, err := call(t, h, Request{ID: "req-1", Op: OpParent, Resolution: 3}, in)
	require.NoError(t, err)
	defer rec.Release()

	md := rec.Schema().Metadata()
	id, _ := md.GetValue(MetaRequestID)
	assert.Equal(t, "req-1", id)

	col := rec.Column(0).(*array.Uint64)
	require.Equal(t, 2, col.Len())
	assert.Equal(t, uint64(res3Cell), col.Value(0))
	assert.True(t, col.IsNull(1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("parent", "test", StatusOK)))
}

func TestHandlerListOps(t *testing.T) {
	h, _ := newTestHandler(t)
	in := sample()
	defer in.Release()

	for _, tc := range []struct {
		req  Request
		want int
	}{
		{Request{Op: OpChildren, Resolution: 6}, 7},
		{Request{Op: OpGridDisk, K: 1}, 7},
	} {
		t.Run(string(tc.req.Op), func(t *testing.T) {
			rec, err := call(t, h, tc.req, in)
			require.NoError(t, err)
			defer rec.Release()

			list := rec.Column(0).(*array.LargeList)
			require.Equal(t, 2, list.Len())
			lo, hi := list.ValueOffsets(0)
			assert.Equal(t, int64(tc.want), hi-lo)
			assert.True(t, list.IsNull(1))
		})
	}
}

func TestHandlerSetOps(t *testing.T) {
	h, _ := newTestHandler(t)
	in := cellarray.FromCells(memory.DefaultAllocator, []cell.Cell{res3Cell})
	defer in.Release()

	rec, err := call(t, h, Request{Op: OpUncompact, Resolution: 4}, in)
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(7), rec.NumRows())

	kids, _, err := cellarray.FromRecord(rec, "", cellarray.Reject)
	require.NoError(t, err)
	defer kids.Release()

	back, err := call(t, h, Request{Op: OpCompact}, kids)
	require.NoError(t, err)
	defer back.Release()
	require.Equal(t, int64(1), back.NumRows())
	assert.Equal(t, uint64(res3Cell), back.Column(0).(*array.Uint64).Value(0))
}

func TestHandlerValidateCountsNulls(t *testing.T) {
	h, _ := newTestHandler(t)

	b := array.NewUint64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues([]uint64{uint64(res5Cell), 42}, nil)
	col := b.NewUint64Array()
	defer col.Release()

	md := Request{Op: OpValidate, Policy: cellarray.NullOut}.Metadata()
	rec := array.NewRecord(arrow.NewSchema([]arrow.Field{cellarray.Field("")}, &md), []arrow.Array{col}, 2)
	defer rec.Release()

	codec := arrowipc.NewCodec()
	payload, err := codec.Encode(rec)
	require.NoError(t, err)
	data, err := h.Process(payload, "test")
	require.NoError(t, err)
	out, err := DecodeResponse(codec, data)
	require.NoError(t, err)
	defer out.Release()

	nulls, _ := out.Schema().Metadata().GetValue(MetaNulls)
	assert.Equal(t, "1", nulls)
	assert.True(t, out.Column(0).IsNull(1))

	// The same payload under reject fails.
	md = Request{Op: OpParent, Resolution: 3, Policy: cellarray.Reject}.Metadata()
	rec2 := array.NewRecord(arrow.NewSchema([]arrow.Field{cellarray.Field("")}, &md), []arrow.Array{col}, 2)
	defer rec2.Release()
	payload, err = codec.Encode(rec2)
	require.NoError(t, err)
	data, err = h.Process(payload, "test")
	require.NoError(t, err)
	_, err = DecodeResponse(codec, data)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "position 1")
}

func TestHandlerGeometryOps(t *testing.T) {
	h, _ := newTestHandler(t)
	in := sample()
	defer in.Release()

	rec, err := call(t, h, Request{Op: OpBoundary}, in)
	require.NoError(t, err)
	defer rec.Release()
	wkbCol := rec.Column(0).(*array.Binary)
	g, err := wkb.Unmarshal(wkbCol.Value(0))
	require.NoError(t, err)
	assert.Len(t, g.(orb.Polygon)[0], 7)
	assert.True(t, wkbCol.IsNull(1))

	rec2, err := call(t, h, Request{Op: OpCenter}, in)
	require.NoError(t, err)
	defer rec2.Release()
	require.Equal(t, int64(2), rec2.NumCols())
	lat := rec2.Column(1).(*array.Float64)
	assert.InDelta(t, 37.35, lat.Value(0), 0.01)
}

func TestHandlerWKBToCells(t *testing.T) {
	h, _ := newTestHandler(t)

	lng, lat, err := geometry.Center(res5Cell)
	require.NoError(t, err)
	poly := orb.Bound{Min: orb.Point{lng - 0.05, lat - 0.05}, Max: orb.Point{lng + 0.05, lat + 0.05}}.ToPolygon()
	raw, err := wkb.Marshal(poly)
	require.NoError(t, err)

	b := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer b.Release()
	b.Append(raw)
	col := b.NewBinaryArray()
	defer col.Release()

	md := Request{Op: OpWKBToCells, Resolution: 5, Mode: geometry.ContainmentOverlap}.Metadata()
	schema := arrow.NewSchema([]arrow.Field{{Name: DefaultGeometryColumn, Type: arrow.BinaryTypes.Binary, Nullable: true}}, &md)
	rec := array.NewRecord(schema, []arrow.Array{col}, 1)
	defer rec.Release()

	codec := arrowipc.NewCodec()
	payload, err := codec.Encode(rec)
	require.NoError(t, err)
	data, err := h.Process(payload, "test")
	require.NoError(t, err)
	out, err := DecodeResponse(codec, data)
	require.NoError(t, err)
	defer out.Release()

	list := out.Column(0).(*array.LargeList)
	values := list.ListValues().(*array.Uint64)
	assert.Contains(t, values.Uint64Values(), uint64(res5Cell))
}

func TestHandlerErrors(t *testing.T) {
	h, m := newTestHandler(t)
	in := sample()
	defer in.Release()

	_, err := call(t, h, Request{ID: "bad", Op: "explode"}, in)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "bad", remote.RequestID)
	assert.Contains(t, remote.Message, "unknown op")

	_, err = call(t, h, Request{Op: OpParent, Resolution: 16}, in)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "parent", remote.Op)

	resp, err := h.Process([]byte("garbage"), "test")
	require.NoError(t, err)
	_, err = DecodeResponse(arrowipc.NewCodec(), resp)
	require.ErrorAs(t, err, &remote)
	assert.NotEmpty(t, remote.RequestID)

	resp, err = h.Process(nil, "test")
	require.NoError(t, err)
	_, err = DecodeResponse(arrowipc.NewCodec(), resp)
	assert.ErrorAs(t, err, &remote)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unknown", "test", StatusError)))
}

func TestParseRequestMissingParams(t *testing.T) {
	_, err := ParseRequest(arrow.NewMetadata([]string{MetaOp}, []string{"parent"}))
	assert.ErrorIs(t, err, ErrMissingParam)

	_, err = ParseRequest(arrow.NewMetadata([]string{MetaOp, MetaK}, []string{"grid_disk", "two"}))
	assert.ErrorIs(t, err, ErrBadParam)

	_, err = ParseRequest(arrow.Metadata{})
	assert.ErrorIs(t, err, ErrMissingParam)

	req, err := ParseRequest(Request{Op: OpGridDisk, K: 2, Column: "h3"}.Metadata())
	require.NoError(t, err)
	assert.Equal(t, 2, req.K)
	assert.Equal(t, "h3", req.Column)
	assert.NotEmpty(t, req.ID)
}

func TestHandlerRejectsOversizedRequests(t *testing.T) {
	h, m := newTestHandler(t)
	in := sample()
	defer in.Release()

	var remote *RemoteError
	var err error
	assert.NotPanics(t, func() {
		_, err = call(t, h, Request{ID: "huge-k", Op: OpGridDisk, K: 2_000_000_000}, in)
	})
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, ErrLimitExceeded.Error())

	_, err = call(t, h, Request{Op: OpGridDisk, K: -1}, in)
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, ErrBadParam.Error())

	// 7^10 children per cell.
	_, err = call(t, h, Request{Op: OpChildren, Resolution: 15}, in)
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, ErrLimitExceeded.Error())

	_, err = call(t, h, Request{Op: OpUncompact, Resolution: 15}, in)
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, ErrLimitExceeded.Error())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("grid_disk", "test", StatusError)))
}

func TestHandlerOutputLimitIsConfigurable(t *testing.T) {
	exec := engine.New(engine.Config{Workers: 2})
	defer exec.Close()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	h := NewHandler(HandlerConfig{Executor: exec, Logger: log, MaxOutputCells: 10})

	in := sample()
	defer in.Release()

	rec, err := call(t, h, Request{Op: OpGridDisk, K: 1}, in)
	require.NoError(t, err)
	rec.Release()

	_, err = call(t, h, Request{Op: OpGridDisk, K: 2}, in)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "19 cells")
}
