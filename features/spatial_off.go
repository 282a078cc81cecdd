//go:build h3arrow_nospatial

package features

const spatialEnabled = false
