package engine

import (
	"runtime"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultChunkSize is the number of rows handed to one task.
	DefaultChunkSize = 16384

	// chunkAlign keeps chunk boundaries on validity bitmap word boundaries,
	// so two chunks never write into the same bitmap byte.
	chunkAlign = 64
)

// Config holds configuration for an Executor.
type Config struct {
	// Name labels the pool in statistics
	Name string

	// Workers is the number of pool goroutines (0 = GOMAXPROCS)
	Workers int

	// ChunkSize is the number of rows per task, rounded up to a multiple of 64
	ChunkSize int

	// Allocator backs every Arrow buffer produced by kernels
	Allocator memory.Allocator

	// Metrics is optional
	Metrics *Metrics

	// Logger receives per-kernel debug records
	Logger logrus.FieldLogger
}

// DefaultConfig returns a configuration sized to the available cores.
func DefaultConfig() Config {
	return Config{
		Name:      "kernels",
		Workers:   runtime.GOMAXPROCS(0),
		ChunkSize: DefaultChunkSize,
		Allocator: memory.DefaultAllocator,
		Logger:    logrus.StandardLogger(),
	}
}

// Executor splits kernel inputs into contiguous chunks and runs them on a Pool.
type Executor struct {
	pool      *Pool
	ownsPool  bool
	chunkSize int
	mem       memory.Allocator
	metrics   *Metrics
	log       logrus.FieldLogger
}

// New creates an Executor with its own pool.
func New(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Allocator == nil {
		cfg.Allocator = def.Allocator
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	return &Executor{
		pool:      NewPool(cfg.Name, cfg.Workers),
		ownsPool:  true,
		chunkSize: alignChunk(cfg.ChunkSize),
		mem:       cfg.Allocator,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
}

func alignChunk(size int) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return (size + chunkAlign - 1) / chunkAlign * chunkAlign
}

// Close shuts down the pool if the executor owns it.
func (e *Executor) Close() {
	if e.ownsPool {
		e.pool.Shutdown()
	}
}

// Sequential returns a view of e that runs every chunk on the calling
// goroutine. Kernels invoked from inside a pool task use it so they never
// wait on the pool they are running on.
func (e *Executor) Sequential() *Executor {
	seq := *e
	seq.pool = nil
	seq.ownsPool = false
	return &seq
}

// Workers returns the pool size.
func (e *Executor) Workers() int {
	if e.pool == nil {
		return 1
	}
	return e.pool.Workers()
}

// ChunkSize returns the aligned chunk size.
func (e *Executor) ChunkSize() int {
	return e.chunkSize
}

// Allocator returns the allocator used for kernel outputs.
func (e *Executor) Allocator() memory.Allocator {
	return e.mem
}

// Logger returns the executor logger.
func (e *Executor) Logger() logrus.FieldLogger {
	return e.log
}

// Stats returns pool statistics.
func (e *Executor) Stats() PoolStats {
	if e.pool == nil {
		return PoolStats{}
	}
	return e.pool.GetStats()
}

// ForEachChunk calls fn for every chunk [lo, hi) of [0, n). Chunks run
// concurrently; fn must only write to output positions inside its chunk.
func (e *Executor) ForEachChunk(n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if n <= e.chunkSize {
		return callChunk(fn, 0, n)
	}
	if e.pool == nil {
		for lo := 0; lo < n; lo += e.chunkSize {
			if err := callChunk(fn, lo, min(lo+e.chunkSize, n)); err != nil {
				return err
			}
		}
		return nil
	}

	tasks := make([]*Task, 0, (n+e.chunkSize-1)/e.chunkSize)
	for lo := 0; lo < n; lo += e.chunkSize {
		hi := lo + e.chunkSize
		if hi > n {
			hi = n
		}
		tasks = append(tasks, &Task{ID: len(tasks), Lo: lo, Hi: hi, Fn: fn})
	}

	err := e.pool.Run(tasks)
	if e.metrics != nil {
		e.metrics.UpdatePool(e.pool.GetStats())
	}
	return err
}

// MapChunks runs fn over the chunks of [0, n) and returns the per-chunk
// results in chunk order, ready for a single-threaded merge.
func MapChunks[T any](e *Executor, n int, fn func(lo, hi int) (T, error)) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	count := (n + e.chunkSize - 1) / e.chunkSize
	parts := make([]T, count)

	err := e.ForEachChunk(n, func(lo, hi int) error {
		part, err := fn(lo, hi)
		if err != nil {
			return err
		}
		parts[lo/e.chunkSize] = part
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// Observe records a finished kernel call.
func (e *Executor) Observe(kernel string, rows, nulls int, start time.Time) {
	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordKernel(kernel, rows, nulls, elapsed)
	}
	e.log.WithFields(logrus.Fields{
		"kernel":   kernel,
		"rows":     rows,
		"nulls":    nulls,
		"duration": elapsed,
	}).Debug("kernel completed")
}

// Fail records a failed kernel call and returns err unchanged.
func (e *Executor) Fail(kernel string, err error) error {
	if e.metrics != nil {
		e.metrics.RecordKernelError(kernel)
	}
	e.log.WithFields(logrus.Fields{
		"kernel": kernel,
		"error":  err,
	}).Debug("kernel failed")
	return err
}

var (
	defaultMu   sync.Mutex
	defaultExec *Executor
)

// Default returns the process-wide executor, creating it on first use.
func Default() *Executor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultExec == nil {
		defaultExec = New(DefaultConfig())
	}
	return defaultExec
}

// SetDefault replaces the process-wide executor and returns the previous one.
// The caller is responsible for closing the previous executor.
func SetDefault(e *Executor) *Executor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultExec
	defaultExec = e
	return prev
}
