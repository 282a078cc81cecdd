// Package arrow serializes cell records as Arrow IPC streams, optionally
// compressed with LZ4 or Zstandard.
package arrow
