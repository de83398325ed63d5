// Package testcard generates the patterns shown by the -test-pattern
// mode: a cycle of solid color fills followed by a drawn card with
// color bars and a gray gradient.
package testcard

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Fill is one solid frame of the cycle.
type Fill struct {
	Name  string
	Value uint16
}

// Fills lists the solid frames in display order, as RGB565 values.
var Fills = []Fill{
	{"red", 0xF800},
	{"green", 0x07E0},
	{"blue", 0x001F},
	{"white", 0xFFFF},
	{"black", 0x0000},
}

// Solid fills dst with a single pixel value.
func Solid(dst []uint16, v uint16) {
	for i := range dst {
		dst[i] = v
	}
}

// bars holds the top-half colors, brightest first. The asymmetric order
// makes a flipped or rotated panel obvious at a glance.
var bars = []struct{ r, g, b float64 }{
	{1, 1, 1},
	{1, 1, 0},
	{0, 1, 1},
	{0, 1, 0},
	{1, 0, 1},
	{1, 0, 0},
	{0, 0, 1},
	{0, 0, 0},
}

// Card draws the alignment card: color bars over a black-to-white
// gradient, a white frame and a centered label. The frame sits on the
// outermost pixels so a panel offset clips it visibly, the gradient
// shows quantization banding.
func Card(width, height int, label string) image.Image {
	w := float64(width)
	h := float64(height)
	c := gg.NewContext(width, height)

	c.SetRGB(0, 0, 0)
	c.Clear()

	// Color bars across the top half.
	bw := w / float64(len(bars))
	for i, b := range bars {
		c.SetRGB(b.r, b.g, b.b)
		c.DrawRectangle(float64(i)*bw, 0, bw, h/2)
		c.Fill()
	}

	// Gray gradient strip below the bars.
	grad := gg.NewLinearGradient(0, 0, w, 0)
	grad.AddColorStop(0, color.Black)
	grad.AddColorStop(1, color.White)
	c.SetFillStyle(grad)
	c.DrawRectangle(0, h/2, w, h/4)
	c.Fill()

	c.SetRGB(1, 1, 1)
	c.SetLineWidth(2)
	c.DrawRectangle(1, 1, w-2, h-2)
	c.Stroke()

	c.SetFontFace(basicfont.Face7x13)
	tw, th := c.MeasureString(label)
	c.DrawString(label, (w-tw)/2, h-(h/4-th)/2)

	return c.Image()
}
