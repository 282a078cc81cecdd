// Package grid implements neighbourhood traversal kernels: disks and rings
// of cells around each origin, with or without their grid distances.
package grid
