package raster

import (
	"cmp"
	"slices"

	"golang.org/x/exp/constraints"
)

// Number is any numeric pixel type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Reducer folds the values of all pixels that fall into one cell. It always
// receives at least one value, in row-major pixel order.
type Reducer[V any] func(values []V) V

// Sum adds the values.
func Sum[V Number]() Reducer[V] {
	return func(values []V) V {
		var s V
		for _, v := range values {
			s += v
		}
		return s
	}
}

// Mean averages the values. Integer types use integer division.
func Mean[V Number]() Reducer[V] {
	sum := Sum[V]()
	return func(values []V) V {
		return sum(values) / V(len(values))
	}
}

// Min returns the smallest value.
func Min[V constraints.Ordered]() Reducer[V] {
	return func(values []V) V {
		return slices.Min(values)
	}
}

// Max returns the largest value.
func Max[V constraints.Ordered]() Reducer[V] {
	return func(values []V) V {
		return slices.Max(values)
	}
}

// Mode returns the most frequent value; ties go to the smallest value.
func Mode[V constraints.Ordered]() Reducer[V] {
	return func(values []V) V {
		counts := make(map[V]int, len(values))
		for _, v := range values {
			counts[v]++
		}
		var best V
		bestCount := 0
		for v, n := range counts {
			if n > bestCount || (n == bestCount && cmp.Less(v, best)) {
				best, bestCount = v, n
			}
		}
		return best
	}
}

// First returns the value of the first pixel in row-major order.
func First[V any]() Reducer[V] {
	return func(values []V) V {
		return values[0]
	}
}
