package raster

import (
	"errors"
)

// ErrSingularTransform is returned when a geotransform cannot be inverted.
var ErrSingularTransform = errors.New("geotransform is not invertible")

// GeoTransform is a GDAL-style affine transform from pixel to map coordinates:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
//
// Map coordinates are longitude (x) and latitude (y) in degrees.
type GeoTransform [6]float64

// NorthUp returns the transform of an unrotated raster whose top-left corner
// is (originX, originY). pixelHeight is usually negative.
func NorthUp(originX, pixelWidth, originY, pixelHeight float64) GeoTransform {
	return GeoTransform{originX, pixelWidth, 0, originY, 0, pixelHeight}
}

// Apply maps fractional pixel coordinates to map coordinates.
func (gt GeoTransform) Apply(row, col float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return x, y
}

// PixelCenter returns the map coordinates of the center of pixel (row, col).
func (gt GeoTransform) PixelCenter(row, col int) (x, y float64) {
	return gt.Apply(float64(row)+0.5, float64(col)+0.5)
}

// Invert returns the transform mapping map coordinates back to pixels,
// in the same coefficient layout.
func (gt GeoTransform) Invert() (GeoTransform, error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return GeoTransform{}, ErrSingularTransform
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(gt[0]*gt[4] - gt[1]*gt[3]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, nil
}

// Pixel returns the (row, col) of the pixel containing map point (x, y).
// inv must come from Invert.
func (inv GeoTransform) Pixel(x, y float64) (row, col int) {
	c := inv[0] + x*inv[1] + y*inv[2]
	r := inv[3] + x*inv[4] + y*inv[5]
	return floor(r), floor(c)
}

func floor(v float64) int {
	i := int(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return i
}
