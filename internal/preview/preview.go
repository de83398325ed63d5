// Package preview renders mirror frames as ANSI color blocks on the
// terminal. It stands in for the panel when developing away from the
// hardware.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"

	"tftmirror/internal/mirror"
)

// Opts configures the emulated panel.
type Opts struct {
	// Width and Height are the panel bounds the preview pretends to have.
	Width  int
	Height int
	// Cols caps the rendered width in terminal cells.
	Cols    int
	Palette *ansi256.Palette

	_ struct{}
}

// Dev emulates the panel on the terminal, one colored block per sampled
// pixel.
type Dev struct {
	w       io.Writer
	width   int
	height  int
	step    int
	palette ansi256.Palette

	frame []uint16
	buf   bytes.Buffer
}

var _ mirror.Sink = &Dev{}
var _ display.Drawer = &Dev{}

// New returns a Dev that draws to stdout.
func New(opts *Opts) *Dev {
	cols := opts.Cols
	if cols <= 0 {
		cols = 96
	}
	step := (opts.Width + cols - 1) / cols
	if step < 1 {
		step = 1
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	return &Dev{
		w:       colorable.NewColorableStdout(),
		width:   opts.Width,
		height:  opts.Height,
		step:    step,
		palette: *p,
		frame:   make([]uint16, opts.Width*opts.Height),
	}
}

func (d *Dev) String() string {
	return "preview.Dev"
}

// Bounds reports the emulated panel size.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.width, d.height)
}

// FlushFull renders one full frame, sampling every step-th column and
// every 2*step-th row since terminal cells are about twice as tall as
// wide. The cursor is homed instead of clearing so successive frames
// overdraw without flicker.
func (d *Dev) FlushFull(px []uint16) error {
	if len(px) != d.width*d.height {
		return fmt.Errorf("preview: frame has %d pixels, want %d", len(px), d.width*d.height)
	}
	copy(d.frame, px)
	return d.refresh()
}

func (d *Dev) refresh() error {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\033[H")
	for y := 0; y < d.height; y += d.step * 2 {
		row := y * d.width
		for x := 0; x < d.width; x += d.step {
			_, _ = d.buf.WriteString(d.palette.Block(decode565(d.frame[row+x])))
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Draw implements display.Drawer: the source region is quantized to
// RGB565 like the real panel would show it, merged into the retained
// frame and redrawn.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	clipped := r.Intersect(d.Bounds())
	if clipped.Empty() {
		return nil
	}
	sp = sp.Add(clipped.Min.Sub(r.Min))
	for y := 0; y < clipped.Dy(); y++ {
		row := (clipped.Min.Y + y) * d.width
		for x := 0; x < clipped.Dx(); x++ {
			cr, cg, cb, _ := src.At(sp.X+x, sp.Y+y).RGBA()
			d.frame[row+clipped.Min.X+x] = encode565(uint8(cr>>8), uint8(cg>>8), uint8(cb>>8))
		}
	}
	return d.refresh()
}

// Halt resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

func encode565(r, g, b uint8) uint16 {
	return (uint16(r)&0xF8)<<8 | (uint16(g)&0xFC)<<3 | uint16(b)>>3
}

func decode565(v uint16) color.NRGBA {
	return color.NRGBA{
		R: uint8(v>>11) << 3,
		G: uint8(v>>5&0x3F) << 2,
		B: uint8(v&0x1F) << 3,
		A: 255,
	}
}
