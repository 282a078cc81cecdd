// Package cellarray provides the columnar container for H3 cells.
// This package implements:
// - CellArray, an immutable nullable Arrow uint64 array of valid cells
// - Construction from raw values, Arrow arrays, hex strings and foreign buffers
// - Zero-copy buffer export and single-column record helpers
// - Nested list results and replaceable columns with generations
package cellarray
