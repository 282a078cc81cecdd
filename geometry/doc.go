// Package geometry converts between H3 cells and orb geometries.
//
// Cell to geometry kernels (Boundaries, BoundariesWKB, Centers) are order
// preserving. Geometry to cell kernels that cover an area are set-valued and
// return cells sorted by value; PointsToCells and CoordinatesToCells are
// order preserving with one cell per point.
package geometry
