package cell

// ResolutionRange is an inclusive interval of resolutions, 0 <= Min <= Max <= 15.
type ResolutionRange struct {
	Min int
	Max int
}

// FullRange covers every resolution.
var FullRange = ResolutionRange{Min: 0, Max: MaxResolution}

// NewResolutionRange checks the bounds and returns the range.
func NewResolutionRange(min, max int) (ResolutionRange, error) {
	if err := CheckResolution(min); err != nil {
		return ResolutionRange{}, err
	}
	if err := CheckResolution(max); err != nil {
		return ResolutionRange{}, err
	}
	if min > max {
		return ResolutionRange{}, &ResolutionRangeError{Resolution: min, Min: 0, Max: max}
	}
	return ResolutionRange{Min: min, Max: max}, nil
}

// Contains reports whether res lies in the range.
func (r ResolutionRange) Contains(res int) bool {
	return res >= r.Min && res <= r.Max
}

// Check returns a *ResolutionRangeError unless res lies in the range.
func (r ResolutionRange) Check(res int) error {
	if !r.Contains(res) {
		return &ResolutionRangeError{Resolution: res, Min: r.Min, Max: r.Max}
	}
	return nil
}
