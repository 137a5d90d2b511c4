package sigcodec

import (
	"encoding/binary"
	"fmt"

	"basewall.xyz/wallsign/compliance"
	"basewall.xyz/wallsign/quant"
)

// DecodeOptions controls decoding.
type DecodeOptions struct {
	// Mode selects Permissive (default) or Strict checking.
	//
	// Strict rejects trailing bytes, coordinates that wrap outside the 12-bit
	// grid, and sniffed payloads that also parse completely as the legacy
	// layout.
	Mode compliance.ComplianceMode

	// Format forces a layout instead of sniffing the first byte. Zero means
	// sniff.
	Format Format
}

// Decode parses a payload produced for a width x height canvas.
//
// A first byte of VersionTag selects the version-2 layout; anything else is
// read as a legacy payload whose strokes all get DefaultColor. Every read is
// bounds-checked and a malformed payload yields an error, never a partial
// result.
func Decode(data []byte, width, height float64) ([]Stroke, error) {
	return DecodeWithOptions(data, width, height, DecodeOptions{})
}

// DecodeFormat parses data with an explicit layout, without sniffing.
func DecodeFormat(data []byte, format Format, width, height float64) ([]Stroke, error) {
	if !format.valid() {
		return nil, newError(KindInvalidInput, RuleUnknownFormat, fmt.Sprintf("sigcodec: unknown format %s", format))
	}
	return DecodeWithOptions(data, width, height, DecodeOptions{Format: format})
}

// DetectFormat reports the layout Decode would choose for data.
func DetectFormat(data []byte) (Format, error) {
	if len(data) == 0 {
		return 0, newError(KindMalformed, RuleEmptyBuffer, "sigcodec: empty payload")
	}
	if data[0] == VersionTag {
		return FormatV2, nil
	}
	return FormatV1, nil
}

func DecodeWithOptions(data []byte, width, height float64, opts DecodeOptions) ([]Stroke, error) {
	if err := checkCanvas(width, height); err != nil {
		return nil, err
	}
	strict := opts.Mode == compliance.Strict

	format := opts.Format
	sniffed := format == 0
	if sniffed {
		f, err := DetectFormat(data)
		if err != nil {
			return nil, err
		}
		format = f
	} else if !format.valid() {
		return nil, newError(KindInvalidInput, RuleUnknownFormat, fmt.Sprintf("sigcodec: unknown format %s", format))
	}

	strokes, err := decode(data, format, width, height, strict)
	if err != nil {
		return nil, err
	}
	if strict && sniffed && format == FormatV2 {
		if _, err := decode(data, FormatV1, width, height, true); err == nil {
			return nil, newError(KindAmbiguous, RuleAmbiguous,
				"sigcodec: payload is valid as both v2 and legacy layout")
		}
	}
	return strokes, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) u8() (byte, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	b := r.data[r.off]
	r.off++
	return b, true
}

func (r *reader) u16() (uint16, bool) {
	if r.remaining() < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, true
}

func decode(data []byte, format Format, width, height float64, strict bool) ([]Stroke, error) {
	if len(data) == 0 {
		return nil, newError(KindMalformed, RuleEmptyBuffer, "sigcodec: empty payload")
	}
	r := reader{data: data}
	strokeHeader := strokeHeaderV1
	if format == FormatV2 {
		if data[0] != VersionTag {
			return nil, newError(KindMalformed, RuleMissingVersion, "sigcodec: missing version tag")
		}
		r.off = 1
		strokeHeader = strokeHeaderV2
	}

	count, ok := r.u16()
	if !ok {
		return nil, newError(KindMalformed, RuleTruncatedHeader, "sigcodec: truncated stroke count")
	}
	if int(count)*strokeHeader > r.remaining() {
		return nil, newError(KindMalformed, RuleTruncatedStroke,
			fmt.Sprintf("sigcodec: %d strokes do not fit in %d bytes", count, r.remaining()))
	}

	strokes := make([]Stroke, 0, count)
	for s := 0; s < int(count); s++ {
		color := DefaultColor
		if format == FormatV2 {
			var rgb [3]byte
			for i := range rgb {
				b, ok := r.u8()
				if !ok {
					return nil, truncatedStroke(s)
				}
				rgb[i] = b
			}
			color = RGB{R: rgb[0], G: rgb[1], B: rgb[2]}
		}
		n, ok := r.u16()
		if !ok {
			return nil, truncatedStroke(s)
		}
		if int(n)*pointSize > r.remaining() {
			return nil, newError(KindMalformed, RuleTruncatedPoints,
				fmt.Sprintf("sigcodec: stroke %d: %d points do not fit in %d bytes", s, n, r.remaining()))
		}

		points := make([]Point, 0, n)
		var x, y uint16
		for p := 0; p < int(n); p++ {
			a, _ := r.u16()
			b, _ := r.u16()
			if p == 0 {
				x, y = a, b
			} else {
				// Deltas are int16; uint16 addition sign-extends and wraps mod 2^16.
				x += a
				y += b
			}
			if strict && (x > quant.Max || y > quant.Max) {
				return nil, newError(KindMalformed, RuleOffGrid,
					fmt.Sprintf("sigcodec: stroke %d point %d is off the 12-bit grid", s, p))
			}
			points = append(points, Point{
				X: quant.Dequantize(x, width),
				Y: quant.Dequantize(y, height),
			})
		}
		c := color
		strokes = append(strokes, Stroke{Points: points, Color: &c})
	}

	if strict && r.remaining() > 0 {
		return nil, newError(KindMalformed, RuleTrailingBytes,
			fmt.Sprintf("sigcodec: %d trailing bytes", r.remaining()))
	}
	return strokes, nil
}

func truncatedStroke(s int) error {
	return newError(KindMalformed, RuleTruncatedStroke, fmt.Sprintf("sigcodec: stroke %d: truncated header", s))
}
