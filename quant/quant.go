// Package quant maps canvas coordinates onto the 12-bit grid used by the
// signature wire format.
package quant

import "math"

const (
	// Bits is the precision of a quantized coordinate.
	Bits = 12

	// Max is the largest grid value (2^Bits - 1).
	Max = 1<<Bits - 1
)

// Quantize maps value in [0, dimension] to round(value/dimension*Max),
// clamped to [0, Max]. NaN and non-positive dimensions yield 0.
func Quantize(value, dimension float64) uint16 {
	if !(dimension > 0) || math.IsNaN(value) {
		return 0
	}
	q := math.Round(value / dimension * Max)
	switch {
	case q <= 0:
		return 0
	case q >= Max:
		return Max
	}
	return uint16(q)
}

// Dequantize maps a grid value back to canvas space: q/Max*dimension.
//
// Values above Max are not clamped; they scale linearly beyond the canvas.
func Dequantize(q uint16, dimension float64) float64 {
	return float64(q) / Max * dimension
}

// Step is the canvas distance between adjacent grid values, which bounds the
// round-trip error of Quantize followed by Dequantize.
func Step(dimension float64) float64 {
	return dimension / Max
}
