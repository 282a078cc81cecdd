// Package hierarchy implements the parent/child kernels of the H3 grid.
//
// Parent, Children and ChangeResolution are order preserving: output slot i
// corresponds to input slot i and nulls propagate. Compact and Uncompact are
// set-valued: they ignore nulls and duplicates and return cells sorted by
// their 64-bit value.
package hierarchy
