package sigcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"basewall.xyz/wallsign/quant"
)

const (
	headerSize     = 3 // version tag + stroke count
	strokeHeaderV2 = 5 // colour + point count
	strokeHeaderV1 = 2
	pointSize      = 4
)

// EncodedSize returns the number of bytes Encode produces for strokes.
//
// Counting stops as soon as the total exceeds MaxEncodedSize, so for oversized
// input the result is only guaranteed to be larger than the limit.
func EncodedSize(strokes []Stroke) int {
	n := headerSize
	for _, s := range strokes {
		n += strokeHeaderV2 + pointSize*len(s.Points)
		if n > MaxEncodedSize {
			return n
		}
	}
	return n
}

// Encode serializes strokes drawn on a width x height canvas into a version-2
// payload.
//
// Coordinates are clamped into the canvas before quantization. Payloads larger
// than MaxEncodedSize are rejected before any output is produced.
func Encode(strokes []Stroke, width, height float64) ([]byte, error) {
	if err := checkCanvas(width, height); err != nil {
		return nil, err
	}
	size := EncodedSize(strokes)
	if size > MaxEncodedSize {
		return nil, newError(KindSizeExceeded, RuleSizeExceeded,
			fmt.Sprintf("sigcodec: encoded size exceeds %d bytes", MaxEncodedSize))
	}

	out := make([]byte, 0, size)
	out = append(out, VersionTag)
	out = binary.BigEndian.AppendUint16(out, uint16(len(strokes)))
	for i, s := range strokes {
		c := s.ColorOrDefault()
		out = append(out, c.R, c.G, c.B)
		out = binary.BigEndian.AppendUint16(out, uint16(len(s.Points)))

		var lastX, lastY uint16
		for j, p := range s.Points {
			if !finite(p.X) || !finite(p.Y) {
				return nil, newError(KindInvalidInput, RuleNonFinite,
					fmt.Sprintf("sigcodec: stroke %d point %d is not finite", i, j))
			}
			x := quant.Quantize(p.X, width)
			y := quant.Quantize(p.Y, height)
			if j == 0 {
				out = binary.BigEndian.AppendUint16(out, x)
				out = binary.BigEndian.AppendUint16(out, y)
			} else {
				// uint16 subtraction yields the two's-complement int16 delta.
				out = binary.BigEndian.AppendUint16(out, x-lastX)
				out = binary.BigEndian.AppendUint16(out, y-lastY)
			}
			lastX, lastY = x, y
		}
	}
	return out, nil
}

func checkCanvas(width, height float64) error {
	if !finite(width) || !finite(height) || width <= 0 || height <= 0 {
		return newError(KindInvalidInput, RuleBadDimension,
			fmt.Sprintf("sigcodec: invalid canvas %vx%v", width, height))
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
