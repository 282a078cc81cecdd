package engine

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Option adjusts how a single kernel call is executed.
type Option func(*options)

type options struct {
	executor  *Executor
	workers   int
	chunkSize int
	mem       memory.Allocator
}

// WithExecutor runs the call on e instead of the default executor.
func WithExecutor(e *Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithWorkers runs the call on a temporary pool of n workers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithChunkSize overrides the chunk size for the call.
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithAllocator allocates the call's output buffers from mem.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

// Resolve turns call options into an executor. The returned function must be
// called when the kernel is done; it releases any temporary pool.
func Resolve(opts ...Option) (*Executor, func()) {
	if len(opts) == 0 {
		return Default(), func() {}
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	base := o.executor
	if base == nil {
		base = Default()
	}

	if o.workers > 0 {
		cfg := Config{
			Name:      "call",
			Workers:   o.workers,
			ChunkSize: base.chunkSize,
			Allocator: base.mem,
			Metrics:   base.metrics,
			Logger:    base.log,
		}
		if o.chunkSize > 0 {
			cfg.ChunkSize = o.chunkSize
		}
		if o.mem != nil {
			cfg.Allocator = o.mem
		}
		e := New(cfg)
		return e, e.Close
	}

	if o.chunkSize <= 0 && o.mem == nil {
		return base, func() {}
	}

	// Shallow copy sharing the pool.
	e := *base
	e.ownsPool = false
	if o.chunkSize > 0 {
		e.chunkSize = alignChunk(o.chunkSize)
	}
	if o.mem != nil {
		e.mem = o.mem
	}
	return &e, func() {}
}
