// Package cell provides the validated H3 grid cell identifier.
// This package implements:
// - Bit-level decoding of raw 64-bit H3 indexes (mode, resolution, base cell, digits)
// - The validating constructor, the only path from a raw integer to a Cell
// - The error taxonomy shared by all kernels
package cell
