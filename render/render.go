// Package render rasterizes decoded strokes into a wall image.
//
// Each stroke is smoothed with quadratic curves through the midpoints of
// consecutive points, flattened to a polyline and stroked with round joins and
// caps. Strokes are composited in order with a fixed opacity.
package render

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/vector"
	"seehuhn.de/go/geom/path"
	"seehuhn.de/go/geom/vec"

	"basewall.xyz/wallsign/sigcodec"
)

const (
	DefaultStrokeWidth = 3.5
	DefaultAlpha       = 0.75
	// DefaultFlatness is the largest distance, in pixels, between a curve and
	// its flattened polyline.
	DefaultFlatness = 0.25
)

const zeroLengthThreshold = 1e-10

// ErrCanvas is returned for a non-positive or oversized canvas.
var ErrCanvas = errors.New("render: invalid canvas size")

// MaxSide bounds each canvas dimension.
const MaxSide = 8192

// Options controls rendering. Zero fields take their defaults.
type Options struct {
	Width, Height int
	StrokeWidth   float64
	Alpha         float64
	Flatness      float64
	Background    color.Color
}

// DefaultOptions returns the wall look for a width x height canvas.
func DefaultOptions(width, height int) Options {
	return Options{Width: width, Height: height}
}

func (o Options) withDefaults() (Options, error) {
	if o.Width <= 0 || o.Height <= 0 || o.Width > MaxSide || o.Height > MaxSide {
		return o, ErrCanvas
	}
	if o.StrokeWidth <= 0 || math.IsNaN(o.StrokeWidth) {
		o.StrokeWidth = DefaultStrokeWidth
	}
	if !(o.Alpha > 0 && o.Alpha <= 1) {
		o.Alpha = DefaultAlpha
	}
	if o.Flatness <= 0 || math.IsNaN(o.Flatness) {
		o.Flatness = DefaultFlatness
	}
	if o.Background == nil {
		o.Background = color.White
	}
	return o, nil
}

// Render draws strokes, in order, onto a fresh canvas. Strokes with fewer than
// two points are not drawn.
func Render(strokes []sigcodec.Stroke, opts Options) (*image.NRGBA, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	bounds := image.Rect(0, 0, opts.Width, opts.Height)
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, image.NewUniform(opts.Background), image.Point{}, draw.Src)

	alpha := uint8(math.Round(opts.Alpha * 255))
	for _, s := range strokes {
		if len(s.Points) < 2 {
			continue
		}
		c := s.ColorOrDefault()
		src := image.NewUniform(color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha})
		drawPolyline(canvas, flatten(smooth(s.Points), opts.Flatness), opts.StrokeWidth/2, src)
	}

	out := image.NewNRGBA(bounds)
	draw.Draw(out, bounds, canvas, image.Point{}, draw.Src)
	return out, nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, img)
}

// smooth builds the midpoint quadratic path through pts: a curve from each
// midpoint to the next, with the shared point as control.
func smooth(pts []sigcodec.Point) *path.Data {
	p := (&path.Data{}).MoveTo(toVec(pts[0]))
	for i := 1; i < len(pts); i++ {
		prev, cur := toVec(pts[i-1]), toVec(pts[i])
		p = p.QuadTo(prev, prev.Add(cur).Mul(0.5))
	}
	return p
}

func toVec(p sigcodec.Point) vec.Vec2 { return vec.Vec2{X: p.X, Y: p.Y} }

// flatten converts a path of MoveTo, LineTo and QuadTo commands into a
// polyline within the given flatness.
func flatten(p *path.Data, flatness float64) []vec.Vec2 {
	var out []vec.Vec2
	var current vec.Vec2
	coordIdx := 0
	for _, cmd := range p.Cmds {
		switch cmd {
		case path.CmdMoveTo:
			current = p.Coords[coordIdx]
			out = append(out, current)
			coordIdx++
		case path.CmdLineTo:
			current = p.Coords[coordIdx]
			out = append(out, current)
			coordIdx++
		case path.CmdQuadTo:
			ctrl, end := p.Coords[coordIdx], p.Coords[coordIdx+1]
			// e = (P0 - 2*P1 + P2) / 4 bounds the deviation from the chord.
			e := current.Sub(ctrl.Mul(2)).Add(end).Mul(0.25)
			n := 1
			if d := e.Length(); d > flatness {
				n = int(math.Ceil(math.Sqrt(d / flatness)))
			}
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				omt := 1 - t
				out = append(out, current.Mul(omt*omt).Add(ctrl.Mul(2*omt*t)).Add(end.Mul(t*t)))
			}
			current = end
			coordIdx += 2
		}
	}
	return out
}

// drawPolyline strokes pts with round joins and caps. The outline is the union
// of one rectangle per segment and one disc per vertex; every piece is wound
// the same way so the rasterizer's clamped coverage merges them without seams.
func drawPolyline(dst draw.Image, pts []vec.Vec2, radius float64, src image.Image) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
	}
	box := image.Rect(
		int(math.Floor(minX-radius))-1, int(math.Floor(minY-radius))-1,
		int(math.Ceil(maxX+radius))+1, int(math.Ceil(maxY+radius))+1,
	).Intersect(dst.Bounds())
	if box.Empty() {
		return
	}

	origin := vec.Vec2{X: float64(box.Min.X), Y: float64(box.Min.Y)}
	z := vector.NewRasterizer(box.Dx(), box.Dy())
	polygon := func(vs ...vec.Vec2) {
		z.MoveTo(float32(vs[0].X-origin.X), float32(vs[0].Y-origin.Y))
		for _, v := range vs[1:] {
			z.LineTo(float32(v.X-origin.X), float32(v.Y-origin.Y))
		}
		z.ClosePath()
	}

	disc := discPoints(radius)
	for i, p := range pts {
		ring := make([]vec.Vec2, len(disc))
		for j, d := range disc {
			ring[j] = p.Add(d)
		}
		polygon(ring...)

		if i == 0 {
			continue
		}
		a := pts[i-1]
		d := p.Sub(a)
		length := d.Length()
		if length < zeroLengthThreshold {
			continue
		}
		t := d.Mul(1 / length)
		n := vec.Vec2{X: -t.Y, Y: t.X}.Mul(radius)
		polygon(a.Sub(n), p.Sub(n), p.Add(n), a.Add(n))
	}

	z.Draw(dst, box, src, image.Point{})
}

// discPoints approximates a circle of radius r by a polygon whose edges stay
// within 0.05 pixels of the arc.
func discPoints(r float64) []vec.Vec2 {
	n := 8
	for r*(1-math.Cos(math.Pi/float64(n))) > 0.05 && n < 64 {
		n *= 2
	}
	out := make([]vec.Vec2, n)
	for i := range out {
		theta := 2 * math.Pi * float64(i) / float64(n)
		out[i] = vec.Vec2{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
	}
	return out
}
