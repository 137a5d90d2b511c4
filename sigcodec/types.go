// Package sigcodec encodes hand-drawn strokes into the compact byte payload
// stored on-chain by the wall contract, and decodes such payloads back.
//
// Layout (big-endian):
//
//	[0x02]                      version tag, absent in legacy buffers
//	uint16 strokeCount
//	per stroke:
//	  R G B                     colour, absent in legacy buffers
//	  uint16 pointCount
//	  uint16 x, uint16 y        first point, absolute 12-bit grid value
//	  int16 dx, int16 dy        each following point, delta from the previous
//
// Encoded payloads never exceed MaxEncodedSize bytes.
package sigcodec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MaxEncodedSize is the largest payload the contract accepts.
	MaxEncodedSize = 4096

	// VersionTag is the leading byte of a version-2 payload.
	VersionTag = 0x02
)

// Format identifies a payload layout.
type Format uint8

const (
	// FormatV1 is the legacy layout: no version byte, no colour.
	FormatV1 Format = 1
	// FormatV2 carries the version byte and a colour per stroke.
	FormatV2 Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatV1:
		return "v1"
	case FormatV2:
		return "v2"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

func (f Format) valid() bool { return f == FormatV1 || f == FormatV2 }

// Point is a position in canvas space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one continuous drag. A nil Color encodes as DefaultColor.
type Stroke struct {
	Points []Point `json:"points"`
	Color  *RGB    `json:"color,omitempty"`
}

// ColorOrDefault returns the stroke colour, or DefaultColor when unset.
func (s Stroke) ColorOrDefault() RGB {
	if s.Color == nil {
		return DefaultColor
	}
	return *s.Color
}

// RGB is an 8-bit-per-channel colour.
type RGB struct {
	R, G, B uint8
}

// DefaultColor (#0a0b0d) is applied to strokes without a colour and to every
// stroke of a legacy payload.
var DefaultColor = RGB{R: 0x0a, G: 0x0b, B: 0x0d}

// Hex renders the colour as lower-case "#rrggbb".
func (c RGB) Hex() string {
	return "#" + hex.EncodeToString([]byte{c.R, c.G, c.B})
}

func (c RGB) String() string { return c.Hex() }

// ParseHex parses "#rrggbb" or "rrggbb" (either case).
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return RGB{}, newError(KindInvalidInput, RuleBadColor, fmt.Sprintf("sigcodec: colour %q is not #rrggbb", s))
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return RGB{}, wrapError(KindInvalidInput, RuleBadColor, fmt.Sprintf("sigcodec: colour %q is not #rrggbb", s), err)
	}
	return RGB{R: b[0], G: b[1], B: b[2]}, nil
}

func (c RGB) MarshalText() ([]byte, error) { return []byte(c.Hex()), nil }

func (c *RGB) UnmarshalText(text []byte) error {
	v, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
