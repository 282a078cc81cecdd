package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"

	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/geometry"
)

// Schema metadata keys of requests and responses.
const (
	MetaOp         = "op"
	MetaRequestID  = "request_id"
	MetaResolution = "resolution"
	MetaK          = "k"
	MetaMode       = "mode"
	MetaColumn     = "column"
	MetaPolicy     = "policy"
	MetaSplit      = "split_antimeridian"
	MetaCompact    = "compact"

	MetaStatus = "status"
	MetaError  = "error"
	MetaNulls  = "nulls_introduced"

	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// ErrUnknownOp is returned for an op the service does not implement.
	ErrUnknownOp = errors.New("unknown op")
	// ErrMissingParam is returned when an op lacks a required parameter.
	ErrMissingParam = errors.New("missing parameter")
	// ErrBadParam is returned for an unparseable parameter.
	ErrBadParam = errors.New("bad parameter")
	// ErrLimitExceeded is returned when a request would produce more output
	// than the service allows.
	ErrLimitExceeded = errors.New("request exceeds service limit")
)

// MaxGridK is the largest grid_disk radius accepted.
const MaxGridK = 1000

// Op names a kernel exposed by the service.
type Op string

const (
	OpValidate         Op = "validate"
	OpParent           Op = "parent"
	OpChildren         Op = "children"
	OpChangeResolution Op = "change_resolution"
	OpCompact          Op = "compact"
	OpUncompact        Op = "uncompact"
	OpBoundary         Op = "boundary"
	OpCenter           Op = "center"
	OpGridDisk         Op = "grid_disk"
	OpWKBToCells       Op = "wkb_to_cells"
)

// Ops lists every supported op.
var Ops = []Op{
	OpValidate, OpParent, OpChildren, OpChangeResolution, OpCompact,
	OpUncompact, OpBoundary, OpCenter, OpGridDisk, OpWKBToCells,
}

func (o Op) needsResolution() bool {
	switch o {
	case OpParent, OpChildren, OpChangeResolution, OpUncompact, OpWKBToCells:
		return true
	}
	return false
}

func (o Op) known() bool {
	for _, op := range Ops {
		if op == o {
			return true
		}
	}
	return false
}

// Request is the parsed form of a request record's schema metadata.
type Request struct {
	ID         string
	Op         Op
	Resolution int
	K          int
	Mode       geometry.Containment
	Column     string
	Policy     cellarray.InvalidPolicy
	Split      bool
	Compact    bool
}

// Metadata encodes the request as schema metadata.
func (r Request) Metadata() arrow.Metadata {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	keys := []string{MetaOp, MetaRequestID, MetaPolicy}
	vals := []string{string(r.Op), r.ID, r.Policy.String()}
	if r.Op.needsResolution() {
		keys, vals = append(keys, MetaResolution), append(vals, strconv.Itoa(r.Resolution))
	}
	if r.Op == OpGridDisk {
		keys, vals = append(keys, MetaK), append(vals, strconv.Itoa(r.K))
	}
	if r.Op == OpWKBToCells {
		keys, vals = append(keys, MetaMode, MetaCompact), append(vals, r.Mode.String(), strconv.FormatBool(r.Compact))
	}
	if r.Column != "" {
		keys, vals = append(keys, MetaColumn), append(vals, r.Column)
	}
	if r.Split {
		keys, vals = append(keys, MetaSplit), append(vals, "true")
	}
	return arrow.NewMetadata(keys, vals)
}

// ParseRequest reads a Request from schema metadata. A missing request id
// is replaced with a fresh UUID.
func ParseRequest(md arrow.Metadata) (Request, error) {
	req := Request{}
	req.ID, _ = md.GetValue(MetaRequestID)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	op, ok := md.GetValue(MetaOp)
	if !ok || op == "" {
		return req, fmt.Errorf("%w: %s", ErrMissingParam, MetaOp)
	}
	req.Op = Op(op)
	if !req.Op.known() {
		return req, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	if req.Op.needsResolution() {
		res, err := intParam(md, MetaResolution)
		if err != nil {
			return req, err
		}
		req.Resolution = res
	}
	if req.Op == OpGridDisk {
		k, err := intParam(md, MetaK)
		if err != nil {
			return req, err
		}
		if k < 0 {
			return req, fmt.Errorf("%w: %s=%d is negative", ErrBadParam, MetaK, k)
		}
		if k > MaxGridK {
			return req, fmt.Errorf("%w: %s=%d, max %d", ErrLimitExceeded, MetaK, k, MaxGridK)
		}
		req.K = k
	}

	mode, _ := md.GetValue(MetaMode)
	m, err := geometry.ParseContainment(mode)
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrBadParam, err)
	}
	req.Mode = m

	req.Column, _ = md.GetValue(MetaColumn)

	req.Policy = cellarray.Reject
	if req.Op == OpValidate {
		req.Policy = cellarray.NullOut
	}
	if p, ok := md.GetValue(MetaPolicy); ok {
		switch strings.ToLower(p) {
		case "reject":
			req.Policy = cellarray.Reject
		case "null_out", "null":
			req.Policy = cellarray.NullOut
		default:
			return req, fmt.Errorf("%w: %s=%q", ErrBadParam, MetaPolicy, p)
		}
	}

	if req.Split, err = boolParam(md, MetaSplit); err != nil {
		return req, err
	}
	if req.Compact, err = boolParam(md, MetaCompact); err != nil {
		return req, err
	}
	return req, nil
}

func intParam(md arrow.Metadata, key string) (int, error) {
	v, ok := md.GetValue(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadParam, key, v)
	}
	return n, nil
}

func boolParam(md arrow.Metadata, key string) (bool, error) {
	v, ok := md.GetValue(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrBadParam, key, v)
	}
	return b, nil
}
