// Package raster converts between 2D rasters and H3 cells.
//
// Rasterize and its variants map pixel centers to cells and reduce per cell;
// the map phase runs over row chunks and the merge keeps row-major pixel
// order. Cellize burns cell values back into a raster. Build with the
// h3arrow_noraster tag to leave the package's kernels out.
package raster
