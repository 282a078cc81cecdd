package cellarray

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// DefaultColumnName is the column name used when none is given.
const DefaultColumnName = "cell"

// KindMetadataKey tags a field with the kind of H3 index it holds.
const KindMetadataKey = "h3.kind"

var (
	// ErrColumnNotFound is returned when a record lacks the requested column.
	ErrColumnNotFound = errors.New("column not found")
	// ErrNotUint64 is returned when a column is not an Arrow uint64 array.
	ErrNotUint64 = errors.New("column is not a uint64 array")
)

// Field returns the Arrow field describing a cell column.
//
// Fields:
//   - type: uint64
//   - nullable: true
//   - metadata: h3.kind = cell
func Field(name string) arrow.Field {
	if name == "" {
		name = DefaultColumnName
	}
	return arrow.Field{
		Name:     name,
		Type:     arrow.PrimitiveTypes.Uint64,
		Nullable: true,
		Metadata: arrow.NewMetadata([]string{KindMetadataKey}, []string{cell.KindCell.String()}),
	}
}

// Schema returns a single-column schema for a cell column.
func Schema(name string) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{Field(name)}, nil)
}

// Record wraps the array into a single-column record. The record holds its
// own reference to the array.
func (a *CellArray) Record(name string) arrow.Record {
	return array.NewRecord(Schema(name), []arrow.Array{a.arr}, int64(a.arr.Len()))
}

// FromRecord extracts and validates the named column of rec.
func FromRecord(rec arrow.Record, name string, policy InvalidPolicy, opts ...engine.Option) (*CellArray, Report, error) {
	if name == "" {
		name = DefaultColumnName
	}
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, Report{}, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	col, ok := rec.Column(idx[0]).(*array.Uint64)
	if !ok {
		return nil, Report{}, fmt.Errorf("%w: %q has type %s", ErrNotUint64, name, rec.Column(idx[0]).DataType())
	}
	return FromArrow(col, policy, opts...)
}

// ValidMask reports per slot whether values holds a valid index of kind.
// Null slots map to false; the mask itself has no nulls.
func ValidMask(values *array.Uint64, kind cell.Kind, opts ...engine.Option) (*array.Boolean, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	n := values.Len()
	mask := make([]bool, n)
	raw := values.Uint64Values()
	err := e.ForEachChunk(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			mask[i] = values.IsValid(i) && cell.IsValidKind(raw[i], kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b := array.NewBooleanBuilder(e.Allocator())
	defer b.Release()
	b.AppendValues(mask, nil)
	return b.NewBooleanArray(), nil
}
