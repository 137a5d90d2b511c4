package sigcodec

import (
	"math"
	"math/rand"
	"testing"

	"basewall.xyz/wallsign/compliance"
	"basewall.xyz/wallsign/quant"
)

func TestRoundTripWithinQuantizationStep(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const w, h = 820.0, 600.0
	tol := math.Max(w, h) / quant.Max

	for run := 0; run < 25; run++ {
		strokes := make([]Stroke, 1+rng.Intn(6))
		for i := range strokes {
			pts := make([]Point, rng.Intn(30))
			for j := range pts {
				pts[j] = Point{X: rng.Float64() * w, Y: rng.Float64() * h}
			}
			strokes[i] = Stroke{Points: pts}
		}

		data, err := Encode(strokes, w, h)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(data, w, h)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if len(got) != len(strokes) {
			t.Fatalf("stroke count %d want %d", len(got), len(strokes))
		}
		for i := range strokes {
			if len(got[i].Points) != len(strokes[i].Points) {
				t.Fatalf("stroke %d: %d points want %d", i, len(got[i].Points), len(strokes[i].Points))
			}
			for j, p := range strokes[i].Points {
				q := got[i].Points[j]
				if math.Abs(q.X-p.X) > tol || math.Abs(q.Y-p.Y) > tol {
					t.Fatalf("stroke %d point %d: %v -> %v exceeds %v", i, j, p, q, tol)
				}
			}
			if *got[i].Color != DefaultColor {
				t.Fatalf("stroke %d: colour %s want default", i, got[i].Color)
			}
		}
	}
}

func TestEncode_DotHasNoDelta(t *testing.T) {
	data, err := Encode([]Stroke{{Points: []Point{{X: 10, Y: 10}}}}, 100, 100)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != headerSize+strokeHeaderV2+pointSize {
		t.Fatalf("dot payload is %d bytes", len(data))
	}
	got, err := Decode(data, 100, 100)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || len(got[0].Points) != 1 {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestEncode_SizeGuard(t *testing.T) {
	// 3 + 5 + 4*1022 = 4096 fits exactly; one more point does not.
	fit := Stroke{Points: make([]Point, 1022)}
	data, err := Encode([]Stroke{fit}, 100, 100)
	if err != nil {
		t.Fatalf("Encode(at limit): %v", err)
	}
	if len(data) != MaxEncodedSize {
		t.Fatalf("payload is %d bytes want %d", len(data), MaxEncodedSize)
	}

	over := Stroke{Points: make([]Point, 1023)}
	data, err = Encode([]Stroke{over}, 100, 100)
	if err == nil {
		t.Fatalf("expected SizeExceeded")
	}
	if data != nil {
		t.Fatalf("partial output on SizeExceeded")
	}
	if !IsKind(err, KindSizeExceeded) || RuleID(err) != RuleSizeExceeded {
		t.Fatalf("unexpected error: %v", err)
	}

	// Many empty strokes also count.
	if _, err := Encode(make([]Stroke, 819), 100, 100); !IsKind(err, KindSizeExceeded) {
		t.Fatalf("819 empty strokes: got %v want SizeExceeded", err)
	}
	if _, err := Encode(make([]Stroke, 818), 100, 100); err != nil {
		t.Fatalf("818 empty strokes: %v", err)
	}
}

func TestEncode_ClampsOutOfCanvas(t *testing.T) {
	data, err := Encode([]Stroke{{Points: []Point{{X: -50, Y: 900}}}}, 820, 820)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data, 820, 820)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := got[0].Points[0]
	if p.X != 0 || p.Y != 820 {
		t.Fatalf("clamped point = %v, want (0, 820)", p)
	}
}

func TestEncode_InvalidInput(t *testing.T) {
	cases := []struct {
		name    string
		strokes []Stroke
		w, h    float64
		rule    string
	}{
		{"zero width", nil, 0, 100, RuleBadDimension},
		{"negative height", nil, 100, -1, RuleBadDimension},
		{"nan width", nil, math.NaN(), 100, RuleBadDimension},
		{"nan point", []Stroke{{Points: []Point{{X: math.NaN(), Y: 1}}}}, 100, 100, RuleNonFinite},
		{"inf point", []Stroke{{Points: []Point{{X: 1, Y: 1}, {X: 1, Y: math.Inf(1)}}}}, 100, 100, RuleNonFinite},
	}
	for _, c := range cases {
		data, err := Encode(c.strokes, c.w, c.h)
		if err == nil || data != nil {
			t.Fatalf("%s: expected error without output", c.name)
		}
		if !IsKind(err, KindInvalidInput) || RuleID(err) != c.rule {
			t.Fatalf("%s: got %v (rule %s) want %s", c.name, err, RuleID(err), c.rule)
		}
	}
}

func TestEncode_KeepsColour(t *testing.T) {
	orange, err := ParseHex("#FC401F")
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	data, err := Encode([]Stroke{{Points: []Point{{X: 1, Y: 1}, {X: 2, Y: 2}}, Color: &orange}}, 10, 10)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data, 10, 10)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got[0].Color.Hex() != "#fc401f" {
		t.Fatalf("colour %s want #fc401f", got[0].Color.Hex())
	}
}

func TestParseHex(t *testing.T) {
	c, err := ParseHex("0a0b0d")
	if err != nil || c != DefaultColor {
		t.Fatalf("ParseHex(0a0b0d) = %v, %v", c, err)
	}
	for _, bad := range []string{"", "#fff", "#0a0b0dff", "#zzzzzz"} {
		if _, err := ParseHex(bad); !IsKind(err, KindInvalidInput) || RuleID(err) != RuleBadColor {
			t.Fatalf("ParseHex(%q): got %v want bad colour", bad, err)
		}
	}
}

func ambiguousPayload() []byte {
	// As v2: three strokes of 1020, 0 and 0 points.
	// As legacy: 512 strokes, the first with 768 points, the rest empty.
	buf := []byte{VersionTag, 0x00, 0x03, 0, 0, 0, 0x03, 0xfc}
	buf = append(buf, make([]byte, 1020*pointSize)...)
	buf = append(buf, make([]byte, 2*strokeHeaderV2)...)
	return buf
}

func TestDecode_AmbiguousPayload(t *testing.T) {
	data := ambiguousPayload()

	strokes, err := Decode(data, 820, 820)
	if err != nil {
		t.Fatalf("Decode(permissive): %v", err)
	}
	if len(strokes) != 3 || len(strokes[0].Points) != 1020 {
		t.Fatalf("unexpected v2 reading: %d strokes", len(strokes))
	}

	_, err = DecodeWithOptions(data, 820, 820, DecodeOptions{Mode: compliance.Strict})
	if !IsKind(err, KindAmbiguous) || RuleID(err) != RuleAmbiguous {
		t.Fatalf("Decode(strict): got %v want Ambiguous", err)
	}

	legacy, err := DecodeFormat(data, FormatV1, 820, 820)
	if err != nil {
		t.Fatalf("DecodeFormat(v1): %v", err)
	}
	if len(legacy) != 512 || len(legacy[0].Points) != 768 {
		t.Fatalf("unexpected legacy reading: %d strokes", len(legacy))
	}

	// An explicit discriminant is never ambiguous.
	if _, err := DecodeWithOptions(data, 820, 820, DecodeOptions{Mode: compliance.Strict, Format: FormatV2}); err != nil {
		t.Fatalf("explicit v2 strict: %v", err)
	}
}

func TestDecodeFormat(t *testing.T) {
	legacy := mustHex(t, "000100020000000000100020")
	if _, err := DecodeFormat(legacy, FormatV2, 10, 10); RuleID(err) != RuleMissingVersion {
		t.Fatalf("v2 without tag: got %v", err)
	}
	if _, err := DecodeFormat(legacy, Format(9), 10, 10); !IsKind(err, KindInvalidInput) {
		t.Fatalf("unknown format: got %v", err)
	}
	got, err := DecodeFormat(legacy, FormatV1, 4095, 4095)
	if err != nil {
		t.Fatalf("DecodeFormat(v1): %v", err)
	}
	if p := got[0].Points[1]; math.Abs(p.X-16) > 1e-9 || math.Abs(p.Y-32) > 1e-9 {
		t.Fatalf("second point = %v want (16, 32)", p)
	}
}

func TestDecode_WrapsModulo16Bits(t *testing.T) {
	// 0x0001 + 0xffff wraps to 0.
	data := mustHex(t, "0200010a0b0d000200010001ffffffff")
	got, err := Decode(data, 4095, 4095)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p := got[0].Points[1]; p.X != 0 || p.Y != 0 {
		t.Fatalf("wrapped point = %v want origin", p)
	}
}

func TestPayloadCID_Deterministic(t *testing.T) {
	a, err := Encode([]Stroke{{Points: []Point{{X: 1, Y: 2}}}}, 10, 10)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode([]Stroke{{Points: []Point{{X: 1, Y: 2}}}}, 10, 10)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if PayloadCID(a) == "" || PayloadCID(a) != PayloadCID(b) {
		t.Fatalf("PayloadCID not deterministic: %s vs %s", PayloadCID(a), PayloadCID(b))
	}
}
