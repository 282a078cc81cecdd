package cellarray

import (
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// InvalidPolicy selects what happens to non-null values that are not valid cells.
type InvalidPolicy int

const (
	// Reject fails the call on the first invalid value.
	Reject InvalidPolicy = iota
	// NullOut turns invalid values into nulls and counts them.
	NullOut
)

func (p InvalidPolicy) String() string {
	switch p {
	case Reject:
		return "reject"
	case NullOut:
		return "null_out"
	default:
		return fmt.Sprintf("InvalidPolicy(%d)", int(p))
	}
}

// ErrLengthMismatch is returned when a validity slice does not match its values.
var ErrLengthMismatch = errors.New("validity length does not match values length")

// Report describes what construction did to the input.
type Report struct {
	// NullsIntroduced counts invalid values turned into nulls under NullOut.
	NullsIntroduced int
}

// chunkResult is the per-chunk outcome of validation.
type chunkResult struct {
	invalid int
	first   *cell.InvalidCellError
}

// source abstracts the raw input: value at i and whether the slot is non-null.
type source func(i int) (uint64, bool)

// FromRaw validates values and builds a CellArray. A nil validity means every
// slot is non-null. Under Reject the returned error is a *cell.InvalidCellError
// carrying the lowest offending position, whatever the chunking.
func FromRaw(values []uint64, validity []bool, policy InvalidPolicy, opts ...engine.Option) (*CellArray, Report, error) {
	if validity != nil && len(validity) != len(values) {
		return nil, Report{}, fmt.Errorf("%w: %d values, %d validity flags", ErrLengthMismatch, len(values), len(validity))
	}
	src := func(i int) (uint64, bool) {
		if validity != nil && !validity[i] {
			return 0, false
		}
		return values[i], true
	}
	return ingest("from_raw", len(values), src, policy, opts...)
}

// FromArrow validates an Arrow uint64 array. Input nulls stay null.
func FromArrow(values *array.Uint64, policy InvalidPolicy, opts ...engine.Option) (*CellArray, Report, error) {
	raw := values.Uint64Values()
	src := func(i int) (uint64, bool) {
		if values.IsNull(i) {
			return 0, false
		}
		return raw[i], true
	}
	return ingest("from_arrow", values.Len(), src, policy, opts...)
}

// FromStrings parses hexadecimal cell strings. Empty strings are nulls;
// unparseable strings are treated like invalid values under policy.
func FromStrings(values []string, policy InvalidPolicy, opts ...engine.Option) (*CellArray, Report, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	w := NewWriter(e.Allocator(), len(values))

	parts, err := engine.MapChunks(e, len(values), func(lo, hi int) (chunkResult, error) {
		var res chunkResult
		for i := lo; i < hi; i++ {
			if values[i] == "" {
				continue
			}
			c, err := cell.Parse(values[i])
			if err != nil {
				res.invalid++
				if res.first == nil {
					res.first = asInvalid(err).At(i)
				}
				if policy == Reject {
					break
				}
				continue
			}
			w.Set(i, c)
		}
		return res, nil
	})
	return finish(e, "from_strings", w, parts, err, policy, start)
}

func ingest(kernel string, n int, src source, policy InvalidPolicy, opts ...engine.Option) (*CellArray, Report, error) {
	e, done := engine.Resolve(opts...)
	defer done()

	start := time.Now()
	w := NewWriter(e.Allocator(), n)

	parts, err := engine.MapChunks(e, n, func(lo, hi int) (chunkResult, error) {
		var res chunkResult
		for i := lo; i < hi; i++ {
			raw, ok := src(i)
			if !ok {
				continue
			}
			c, err := cell.Validate(raw)
			if err != nil {
				res.invalid++
				if res.first == nil {
					res.first = asInvalid(err).At(i)
				}
				if policy == Reject {
					break
				}
				continue
			}
			w.Set(i, c)
		}
		return res, nil
	})
	return finish(e, kernel, w, parts, err, policy, start)
}

func finish(e *engine.Executor, kernel string, w *Writer, parts []chunkResult, err error, policy InvalidPolicy, start time.Time) (*CellArray, Report, error) {
	if err != nil {
		w.Discard()
		return nil, Report{}, e.Fail(kernel, err)
	}

	var report Report
	for _, p := range parts {
		if p.first != nil && policy == Reject {
			// Parts are in chunk order, so the first hit is the lowest position.
			w.Discard()
			return nil, Report{}, e.Fail(kernel, p.first)
		}
		report.NullsIntroduced += p.invalid
	}

	out := w.Finish()
	e.Observe(kernel, out.Len(), out.NullCount(), start)
	return out, report, nil
}

func asInvalid(err error) *cell.InvalidCellError {
	var ice *cell.InvalidCellError
	if errors.As(err, &ice) {
		return ice
	}
	return &cell.InvalidCellError{Position: -1, Reason: cell.ReasonRejected}
}

// ColumnBuffers exposes the Arrow buffers of a CellArray without copying.
//
// Values and Validity follow the Arrow layout: slot i lives at
// Values[Offset+i] and bit Offset+i of Validity. Validity is nil when the
// array has no nulls. The slices alias memory owned by the array and are
// only valid while the array is retained.
type ColumnBuffers struct {
	Values    []uint64
	Validity  []byte
	Offset    int
	Length    int
	NullCount int
}

// Valid reports whether slot i is non-null.
func (b ColumnBuffers) Valid(i int) bool {
	return b.Validity == nil || bitutil.BitIsSet(b.Validity, b.Offset+i)
}

// Buffers returns the raw buffers backing the array.
func (a *CellArray) Buffers() ColumnBuffers {
	data := a.arr.Data()
	bufs := data.Buffers()

	var validity []byte
	if data.NullN() > 0 && bufs[0] != nil {
		validity = bufs[0].Bytes()
	}
	var values []uint64
	if bufs[1] != nil {
		values = arrow.Uint64Traits.CastFromBytes(bufs[1].Bytes())
	}
	return ColumnBuffers{
		Values:    values,
		Validity:  validity,
		Offset:    data.Offset(),
		Length:    data.Len(),
		NullCount: data.NullN(),
	}
}

// FromBuffers validates foreign buffers laid out like ColumnBuffers. When every
// non-null value is valid the buffers are wrapped without copying and must
// outlive the returned array; otherwise the policy applies and a copy is made.
func FromBuffers(b ColumnBuffers, policy InvalidPolicy, opts ...engine.Option) (*CellArray, Report, error) {
	if len(b.Values) < b.Offset+b.Length {
		return nil, Report{}, fmt.Errorf("%w: values buffer holds %d slots, need %d",
			ErrLengthMismatch, len(b.Values), b.Offset+b.Length)
	}
	if b.Validity != nil && len(b.Validity)*8 < b.Offset+b.Length {
		return nil, Report{}, fmt.Errorf("%w: validity bitmap holds %d bits, need %d",
			ErrLengthMismatch, len(b.Validity)*8, b.Offset+b.Length)
	}

	src := func(i int) (uint64, bool) {
		if !b.Valid(i) {
			return 0, false
		}
		return b.Values[b.Offset+i], true
	}

	e, done := engine.Resolve(opts...)
	clean := true
	parts, err := engine.MapChunks(e, b.Length, func(lo, hi int) (bool, error) {
		for i := lo; i < hi; i++ {
			if raw, ok := src(i); ok && !cell.IsValid(raw) {
				return false, nil
			}
		}
		return true, nil
	})
	done()
	if err != nil {
		return nil, Report{}, err
	}
	for _, ok := range parts {
		clean = clean && ok
	}
	if !clean {
		return ingest("from_buffers", b.Length, src, policy, opts...)
	}

	nulls := 0
	var validityBuf *memory.Buffer
	if b.Validity != nil {
		nulls = b.Length - bitutil.CountSetBits(b.Validity, b.Offset, b.Length)
		validityBuf = memory.NewBufferBytes(b.Validity)
	}
	valuesBuf := memory.NewBufferBytes(arrow.Uint64Traits.CastToBytes(b.Values))

	data := array.NewData(arrow.PrimitiveTypes.Uint64, b.Length,
		[]*memory.Buffer{validityBuf, valuesBuf}, nil, nulls, b.Offset)
	defer data.Release()
	return wrap(array.NewUint64Data(data)), Report{}, nil
}
