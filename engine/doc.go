// Package engine provides the parallel execution layer for cell kernels.
// This package implements:
// - Worker pool with goroutines executing contiguous chunk tasks
// - Chunked executor with order-independent, lock-free output assembly
// - Prometheus metrics and debug logging of kernel calls
package engine
