// Package features reports which optional kernel families were compiled in.
//
// Rasterization and spatial indexing can be left out of a build with the
// h3arrow_noraster and h3arrow_nospatial build tags. Their entry points then
// return ErrUnavailable.
package features

import (
	"errors"
	"fmt"
)

// Feature names an optional kernel family.
type Feature string

const (
	Raster       Feature = "raster"
	SpatialIndex Feature = "spatial_index"
)

// ErrUnavailable is returned by entry points of features left out of the build.
var ErrUnavailable = errors.New("feature not available in this build")

// Enabled reports whether f was compiled in.
func Enabled(f Feature) bool {
	switch f {
	case Raster:
		return rasterEnabled
	case SpatialIndex:
		return spatialEnabled
	default:
		return false
	}
}

// Require returns an error wrapping ErrUnavailable unless f was compiled in.
func Require(f Feature) error {
	if !Enabled(f) {
		return fmt.Errorf("%w: %s", ErrUnavailable, f)
	}
	return nil
}

// List returns the compiled-in features.
func List() []Feature {
	var out []Feature
	for _, f := range []Feature{Raster, SpatialIndex} {
		if Enabled(f) {
			out = append(out, f)
		}
	}
	return out
}
