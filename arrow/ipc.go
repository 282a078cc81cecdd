package arrow

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

var (
	// ErrNoRecords is returned when an IPC stream carries no record batch.
	ErrNoRecords = errors.New("no records in IPC data")
	// ErrUnknownCompression is returned by ParseCompression.
	ErrUnknownCompression = errors.New("unknown IPC compression")
)

// Compression selects the body compression of written IPC streams.
// Readers detect it from the stream.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// ParseCompression maps "", "none", "lz4" and "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// Codec converts Arrow records to and from IPC stream bytes.
type Codec struct {
	mem         memory.Allocator
	compression Compression
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithAllocator sets the allocator used for decoded records.
func WithAllocator(mem memory.Allocator) CodecOption {
	return func(c *Codec) { c.mem = mem }
}

// WithCompression sets the compression of encoded streams.
func WithCompression(comp Compression) CodecOption {
	return func(c *Codec) { c.compression = comp }
}

// NewCodec creates a Codec. Defaults: Go allocator, no compression.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{mem: memory.DefaultAllocator}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compression returns the compression used for writing.
func (c *Codec) Compression() Compression {
	return c.compression
}

func (c *Codec) writerOptions(schema *arrow.Schema) []ipc.Option {
	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(c.mem)}
	switch c.compression {
	case CompressionLZ4:
		opts = append(opts, ipc.WithLZ4())
	case CompressionZstd:
		opts = append(opts, ipc.WithZstd())
	}
	return opts
}

// Encode serializes one record to an IPC stream.
func (c *Codec) Encode(record arrow.Record) ([]byte, error) {
	return c.EncodeAll([]arrow.Record{record})
}

// EncodeAll serializes records sharing the first record's schema.
func (c *Codec) EncodeAll(records []arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: nothing to serialize", ErrNoRecords)
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, c.writerOptions(records[0].Schema())...)
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode reads the first record of an IPC stream. The caller owns the
// returned record.
func (c *Codec) Decode(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, ErrNoRecords
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}

// DecodeAll reads every record of an IPC stream.
func (c *Codec) DecodeAll(data []byte) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	if reader.Err() != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, reader.Err()
	}

	return records, nil
}

// EncodeCells serializes a cell array as a single-column stream.
func (c *Codec) EncodeCells(cells *cellarray.CellArray, name string) ([]byte, error) {
	rec := cells.Record(name)
	defer rec.Release()
	return c.Encode(rec)
}

// DecodeCells reads the named cell column from the first record of a stream
// and validates it under policy.
func (c *Codec) DecodeCells(data []byte, name string, policy cellarray.InvalidPolicy, opts ...engine.Option) (*cellarray.CellArray, cellarray.Report, error) {
	rec, err := c.Decode(data)
	if err != nil {
		return nil, cellarray.Report{}, err
	}
	defer rec.Release()
	return cellarray.FromRecord(rec, name, policy, opts...)
}
