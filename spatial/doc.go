// Package spatial provides an R-tree over cell bounding boxes for envelope
// and nearest-neighbour queries that answer with array positions.
package spatial
