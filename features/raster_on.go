//go:build !h3arrow_noraster

package features

const rasterEnabled = true
