package api

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	arrowipc "github.com/VanDung-dev/H3Arrow-Engine/arrow"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
	"github.com/VanDung-dev/H3Arrow-Engine/geometry"
	"github.com/VanDung-dev/H3Arrow-Engine/grid"
	"github.com/VanDung-dev/H3Arrow-Engine/hierarchy"
)

// DefaultGeometryColumn names the WKB column of wkb_to_cells requests and
// boundary responses.
const DefaultGeometryColumn = "geometry"

// DefaultMaxOutputCells caps the cells one children, uncompact or grid_disk
// request may produce.
const DefaultMaxOutputCells = 10_000_000

// ErrInternal is returned when a kernel panics while serving a request.
var ErrInternal = errors.New("internal error")

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Executor runs the kernels (nil = engine.Default())
	Executor *engine.Executor
	// Codec encodes responses (nil = uncompressed)
	Codec *arrowipc.Codec
	// Logger receives request records
	Logger logrus.FieldLogger
	// Metrics is optional
	Metrics *Metrics
	// MaxOutputCells caps the estimated output of fan-out ops
	// (0 = DefaultMaxOutputCells)
	MaxOutputCells int
}

// Handler turns request IPC streams into response IPC streams. It is safe
// for concurrent use.
type Handler struct {
	exec    *engine.Executor
	codec   *arrowipc.Codec
	log     logrus.FieldLogger
	metrics *Metrics
	limit   int
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Executor == nil {
		cfg.Executor = engine.Default()
	}
	if cfg.Codec == nil {
		cfg.Codec = arrowipc.NewCodec()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxOutputCells <= 0 {
		cfg.MaxOutputCells = DefaultMaxOutputCells
	}
	return &Handler{
		exec:    cfg.Executor,
		codec:   cfg.Codec,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		limit:   cfg.MaxOutputCells,
	}
}

// Process decodes one request, runs it and encodes the response. Request
// failures are encoded as error records; the returned error is set only when
// no response could be encoded at all.
func (h *Handler) Process(data []byte, transport string) ([]byte, error) {
	start := time.Now()
	req := Request{Op: "unknown"}
	rows := 0

	out, err := func() (out arrow.Record, err error) {
		defer func() {
			if r := recover(); r != nil {
				out, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
			}
		}()
		if len(data) == 0 {
			req.ID = uuid.NewString()
			return nil, fmt.Errorf("%w: empty request", ErrBadParam)
		}
		rec, err := h.codec.Decode(data)
		if err != nil {
			req.ID = uuid.NewString()
			return nil, fmt.Errorf("decode request: %w", err)
		}
		defer rec.Release()
		rows = int(rec.NumRows())

		parsed, err := ParseRequest(rec.Schema().Metadata())
		req = parsed
		if err != nil {
			if !req.Op.known() {
				req.Op = "unknown"
			}
			return nil, err
		}
		return h.Execute(req, rec)
	}()

	status := StatusOK
	if err != nil {
		status = StatusError
		h.log.WithFields(logrus.Fields{
			"request_id": req.ID,
			"op":         req.Op,
			"transport":  transport,
		}).WithError(err).Warn("request failed")
		out = errorRecord(req, err)
	}
	defer out.Release()

	resp, encErr := h.codec.Encode(out)
	if encErr != nil {
		return nil, fmt.Errorf("encode response: %w", encErr)
	}

	elapsed := time.Since(start)
	h.metrics.RecordRequest(string(req.Op), transport, status, rows, len(data), len(resp), elapsed)
	h.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"op":         req.Op,
		"transport":  transport,
		"rows":       rows,
		"status":     status,
		"duration":   elapsed,
	}).Debug("request handled")
	return resp, nil
}

// Execute runs req against the columns of rec and returns the response record.
func (h *Handler) Execute(req Request, rec arrow.Record) (arrow.Record, error) {
	opts := []engine.Option{engine.WithExecutor(h.exec)}
	meta := responseMeta{req: req}

	if req.Op == OpWKBToCells {
		name := req.Column
		if name == "" {
			name = DefaultGeometryColumn
		}
		values, err := binaryColumn(rec, name)
		if err != nil {
			return nil, err
		}
		list, err := geometry.WKBToCells(values, req.Resolution, req.Mode, req.Compact, opts...)
		if err != nil {
			return nil, err
		}
		defer list.Release()
		return meta.listRecord(cellarray.DefaultColumnName, list), nil
	}

	cells, report, err := cellarray.FromRecord(rec, req.Column, req.Policy, opts...)
	if err != nil {
		return nil, err
	}
	defer cells.Release()
	meta.nulls = report.NullsIntroduced

	name := req.Column
	if name == "" {
		name = cellarray.DefaultColumnName
	}

	if n := fanout(req, cells); n > float64(h.limit) {
		return nil, fmt.Errorf("%w: %s would produce about %.0f cells, max %d", ErrLimitExceeded, req.Op, n, h.limit)
	}

	switch req.Op {
	case OpValidate:
		return meta.cellRecord(name, cells), nil

	case OpParent, OpChangeResolution, OpCompact, OpUncompact:
		var out *cellarray.CellArray
		switch req.Op {
		case OpParent:
			out, err = hierarchy.Parent(cells, req.Resolution, opts...)
		case OpChangeResolution:
			out, err = hierarchy.ChangeResolution(cells, req.Resolution, opts...)
		case OpCompact:
			out, err = hierarchy.Compact(cells, opts...)
		default:
			out, err = hierarchy.Uncompact(cells, req.Resolution, opts...)
		}
		if err != nil {
			return nil, err
		}
		defer out.Release()
		return meta.cellRecord(name, out), nil

	case OpChildren, OpGridDisk:
		var list *cellarray.List
		if req.Op == OpChildren {
			list, err = hierarchy.Children(cells, req.Resolution, opts...)
		} else {
			list, err = grid.GridDisk(cells, req.K, opts...)
		}
		if err != nil {
			return nil, err
		}
		defer list.Release()
		return meta.listRecord(name, list), nil

	case OpBoundary:
		wkb, err := geometry.BoundariesWKB(cells, geometry.BoundaryOptions{SplitAntimeridian: req.Split}, opts...)
		if err != nil {
			return nil, err
		}
		return meta.record(
			[]arrow.Field{{Name: DefaultGeometryColumn, Type: arrow.BinaryTypes.Binary, Nullable: true}},
			[]arrow.Array{wkb},
		), nil

	case OpCenter:
		lng, lat, err := geometry.Centers(cells, opts...)
		if err != nil {
			return nil, err
		}
		return meta.record(
			[]arrow.Field{
				{Name: "lng", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
				{Name: "lat", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			},
			[]arrow.Array{lng, lat},
		), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
}

// fanout estimates how many cells op produces for cells.
func fanout(req Request, cells *cellarray.CellArray) float64 {
	switch req.Op {
	case OpChildren, OpUncompact:
		total := 0.0
		for _, slot := range cells.All() {
			if !slot.Valid {
				continue
			}
			if d := req.Resolution - slot.Cell.Resolution(); d > 0 {
				total += math.Pow(7, float64(d))
			} else {
				total++
			}
		}
		return total
	case OpGridDisk:
		valid := float64(cells.Len() - cells.NullCount())
		k := float64(req.K)
		return valid * (3*k*(k+1) + 1)
	}
	return 0
}

func binaryColumn(rec arrow.Record, name string) (*array.Binary, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: %q", cellarray.ErrColumnNotFound, name)
	}
	col, ok := rec.Column(idx[0]).(*array.Binary)
	if !ok {
		return nil, fmt.Errorf("%w: column %q has type %s, want binary", ErrBadParam, name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

type responseMeta struct {
	req   Request
	nulls int
}

func (m responseMeta) metadata() arrow.Metadata {
	return arrow.NewMetadata(
		[]string{MetaStatus, MetaRequestID, MetaOp, MetaNulls},
		[]string{StatusOK, m.req.ID, string(m.req.Op), fmt.Sprint(m.nulls)},
	)
}

// record takes ownership of cols.
func (m responseMeta) record(fields []arrow.Field, cols []arrow.Array) arrow.Record {
	md := m.metadata()
	n := int64(0)
	if len(cols) > 0 {
		n = int64(cols[0].Len())
	}
	rec := array.NewRecord(arrow.NewSchema(fields, &md), cols, n)
	for _, c := range cols {
		c.Release()
	}
	return rec
}

func (m responseMeta) cellRecord(name string, cells *cellarray.CellArray) arrow.Record {
	return m.record([]arrow.Field{cellarray.Field(name)}, []arrow.Array{cells.Arrow()})
}

func (m responseMeta) listRecord(name string, list *cellarray.List) arrow.Record {
	return m.record(
		[]arrow.Field{{Name: name, Type: arrow.LargeListOf(arrow.PrimitiveTypes.Uint64), Nullable: true}},
		[]arrow.Array{list.Arrow()},
	)
}

// errorRecord is a zero-column record whose metadata carries the failure.
func errorRecord(req Request, err error) arrow.Record {
	md := arrow.NewMetadata(
		[]string{MetaStatus, MetaRequestID, MetaOp, MetaError},
		[]string{StatusError, req.ID, string(req.Op), err.Error()},
	)
	return array.NewRecord(arrow.NewSchema(nil, &md), nil, 0)
}
