package raster

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// GridFromDense copies a gonum matrix into a grid. NaN entries are flagged
// as nodata.
func GridFromDense(m mat.Matrix) Grid[float64] {
	rows, cols := m.Dims()
	g := NewGrid[float64](rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g.Values[r*cols+c] = m.At(r, c)
		}
	}
	return MaskNaN(g)
}

// ToDense copies a grid into a gonum matrix; nodata pixels become NaN.
func ToDense(g Grid[float64]) *mat.Dense {
	if g.Rows == 0 || g.Cols == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, len(g.Values))
	for i, v := range g.Values {
		if g.Valid(i) {
			data[i] = v
		} else {
			data[i] = math.NaN()
		}
	}
	return mat.NewDense(g.Rows, g.Cols, data)
}
