// Package render draws detected circles onto frames and holds the latest
// rendered image for the UI.
package render

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mikeyg42/circlecam/internal/vision"
)

// Overlay draws an outline, a centre marker and a 1-based index label for
// every circle.
type Overlay struct {
	RingWidth    float64
	MarkerRadius int
}

func NewOverlay() *Overlay {
	return &Overlay{RingWidth: 2, MarkerRadius: 3}
}

// ColorFor returns the colour used for the i-th circle.
func ColorFor(i int) color.NRGBA {
	hue := math.Mod(float64(i)*137.5, 360)
	c := colorful.Hcl(hue, 0.9, 0.65).Clamped()
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}

// Draw copies base and draws one marker per circle in the given order. It
// returns the copy and the number of markers drawn. Circles entirely off
// the frame are still counted; clipping only affects pixels.
func (o *Overlay) Draw(base image.Image, circles []vision.Circle) (*image.NRGBA, int) {
	dst := imaging.Clone(base)
	drawn := 0
	for i, c := range circles {
		col := ColorFor(i)
		o.ring(dst, c, col)
		o.marker(dst, c, col)
		label(dst, c, strconv.Itoa(i+1), col)
		drawn++
	}
	return dst, drawn
}

func (o *Overlay) ring(dst *image.NRGBA, c vision.Circle, col color.NRGBA) {
	half := o.RingWidth / 2
	cx, cy, r := float64(c.X), float64(c.Y), float64(c.Radius)
	outer := r + half
	b := dst.Bounds()
	x0, x1 := max(b.Min.X, int(cx-outer)-1), min(b.Max.X-1, int(cx+outer)+1)
	y0, y1 := max(b.Min.Y, int(cy-outer)-1), min(b.Max.Y-1, int(cy+outer)+1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			if math.Abs(d-r) <= half {
				dst.SetNRGBA(x, y, col)
			}
		}
	}
}

func (o *Overlay) marker(dst *image.NRGBA, c vision.Circle, col color.NRGBA) {
	cx, cy := int(math.Round(float64(c.X))), int(math.Round(float64(c.Y)))
	r := o.MarkerRadius
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= r*r && image.Pt(x, y).In(dst.Bounds()) {
				dst.SetNRGBA(x, y, col)
			}
		}
	}
}

// label writes text just outside the top-right of the circle.
func label(dst *image.NRGBA, c vision.Circle, text string, col color.NRGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot: fixed.Point26_6{
			X: fixed.I(int(c.X+c.Radius) + 4),
			Y: fixed.I(int(c.Y-c.Radius) + 4),
		},
	}
	d.DrawString(text)
}
