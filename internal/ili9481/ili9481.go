// Package ili9481 drives ILI9481-family 320x480 TFT controllers over a
// write-only parallel bus. The driver owns the power-up command table,
// rotation handling and the address-window/pixel-stream protocol; the bus
// engine underneath decides how words reach the data lines.
package ili9481

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"periph.io/x/conn/v3/display"

	appLog "tftmirror/internal/log"
)

// Commands
const (
	nop                 byte = 0x00
	softReset           byte = 0x01
	readDisplayID       byte = 0x04
	sleepIn             byte = 0x10
	sleepOut            byte = 0x11
	partialModeOn       byte = 0x12
	normalModeOn        byte = 0x13
	inversionOff        byte = 0x20
	inversionOn         byte = 0x21
	displayOff          byte = 0x28
	displayOn           byte = 0x29
	columnAddressSet    byte = 0x2A
	pageAddressSet      byte = 0x2B
	memoryWrite         byte = 0x2C
	memoryAccessControl byte = 0x36
	pixelFormatSet      byte = 0x3A
	panelDriveSetting   byte = 0xC0
	frameRateControl    byte = 0xC5
	gammaSetting        byte = 0xC8
	powerSetting        byte = 0xD0
	vcomControl         byte = 0xD1
	powerNormalMode     byte = 0xD2
)

// Pixel format parameter values.
const (
	pixelFormat565 byte = 0x55
	pixelFormat444 byte = 0x03
)

// Native panel geometry before rotation.
const (
	nativeWidth  = 320
	nativeHeight = 480
)

// bus is the transport the driver writes through. parallel.Bus implements
// it; tests substitute a recorder.
type bus interface {
	Reset()
	WriteCommand(cmd byte)
	WriteData(v byte)
	WritePixels(px []uint16)
	Width() int
}

// Opts holds the panel configuration.
type Opts struct {
	// Rotation selects the scan direction in 90 degree steps. Values
	// outside {0, 90, 180, 270} fall back to 270, the usual landscape
	// orientation of the common breakout boards.
	Rotation int
}

// Dev is an initialized panel handle. It is not safe for concurrent use;
// one goroutine owns the bus.
type Dev struct {
	bus      bus
	rotation int
	w, h     int
}

var _ display.Drawer = &Dev{}

// New wraps b in a panel driver. The panel is not touched until Init.
func New(b bus, opts *Opts) *Dev {
	rot := opts.Rotation
	switch rot {
	case 0, 90, 180, 270:
	default:
		rot = 270
	}
	d := &Dev{bus: b, rotation: rot}
	d.w, d.h = Size(rot)
	return d
}

// Size reports the panel bounds for a rotation without opening hardware.
// Unknown rotations land on the 270 degree default, like New.
func Size(rotation int) (width, height int) {
	switch rotation {
	case 0, 180:
		return nativeWidth, nativeHeight
	default:
		return nativeHeight, nativeWidth
	}
}

// initSequence is the power-up command table: command, parameters, settle
// time. Order and delays are the controller's power-on requirements.
var initSequence = []struct {
	cmd   byte
	data  []byte
	delay time.Duration
}{
	{softReset, nil, 50 * time.Millisecond},
	{sleepOut, nil, 20 * time.Millisecond},
	{powerSetting, []byte{0x07, 0x42, 0x18}, 0},
	{vcomControl, []byte{0x00, 0x07, 0x10}, 0},
	{powerNormalMode, []byte{0x01, 0x02}, 0},
	{panelDriveSetting, []byte{0x10, 0x3B, 0x00, 0x02, 0x11}, 0},
	{frameRateControl, []byte{0x03}, 0},
	{gammaSetting, []byte{0x00, 0x32, 0x36, 0x45, 0x06, 0x16, 0x37, 0x75, 0x77, 0x54, 0x0C, 0x00}, 0},
}

// Init pulses the hardware reset line, walks the power-up command table,
// selects the pixel format matching the bus width and programs the scan
// direction for the configured rotation. The panel accepts frames once it
// returns.
func (d *Dev) Init() {
	d.bus.Reset()
	for _, step := range initSequence {
		d.command(step.cmd, step.data...)
		if step.delay > 0 {
			time.Sleep(step.delay)
		}
	}
	colmod := pixelFormat565
	if d.bus.Width() == 12 {
		colmod = pixelFormat444
	}
	d.command(pixelFormatSet, colmod)
	d.command(displayOn)
	time.Sleep(25 * time.Millisecond)
	d.command(memoryAccessControl, d.madctl())
	appLog.Info("panel ready", "width", d.w, "height", d.h, "rotation", d.rotation)
}

// madctl maps the rotation to the address-mode byte: row/column exchange
// and order bits combined with BGR color order.
func (d *Dev) madctl() byte {
	switch d.rotation {
	case 0:
		return 0x0A
	case 90:
		return 0xE8
	case 180:
		return 0xCA
	default:
		return 0x28
	}
}

func (d *Dev) command(cmd byte, params ...byte) {
	d.bus.WriteCommand(cmd)
	for _, p := range params {
		d.bus.WriteData(p)
	}
}

// setWindow limits memory writes to the rectangle [x0,x1]x[y0,y1],
// inclusive on all edges.
func (d *Dev) setWindow(x0, y0, x1, y1 int) {
	d.command(columnAddressSet, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1))
	d.command(pageAddressSet, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1))
}

// FlushFull rewrites the whole screen from px, row-major with the bounds
// of the configured rotation. The caller supplies exactly width*height
// pixels; the address window is re-asserted every frame so a glitched
// panel recovers on the next flush.
func (d *Dev) FlushFull(px []uint16) error {
	if len(px) != d.w*d.h {
		return fmt.Errorf("ili9481: frame has %d pixels, want %d", len(px), d.w*d.h)
	}
	d.setWindow(0, 0, d.w-1, d.h-1)
	d.command(memoryWrite)
	d.bus.WritePixels(px)
	return nil
}

// DisplayOff blanks the panel without losing its memory or state.
func (d *Dev) DisplayOff() {
	d.command(displayOff)
}

// DisplayOn restores output after DisplayOff.
func (d *Dev) DisplayOn() {
	d.command(displayOn)
}

// PowerOff blanks the panel and puts the controller to sleep. The bus
// stays open; releasing it is the caller's job.
func (d *Dev) PowerOff() {
	d.command(displayOff)
	time.Sleep(20 * time.Millisecond)
	d.command(sleepIn)
	time.Sleep(120 * time.Millisecond)
}

// String implements display.Drawer.
func (d *Dev) String() string {
	return fmt.Sprintf("ili9481.Dev{%dx%d}", d.w, d.h)
}

// Halt implements display.Drawer by powering the panel down.
func (d *Dev) Halt() error {
	d.PowerOff()
	return nil
}

// ColorModel implements display.Drawer. Colors are quantized to RGB565.
func (d *Dev) ColorModel() color.Model {
	return color.ModelFunc(func(c color.Color) color.Color {
		r, g, b, _ := c.RGBA()
		return color.RGBA{
			R: uint8(r>>8) &^ 0x07,
			G: uint8(g>>8) &^ 0x03,
			B: uint8(b>>8) &^ 0x07,
			A: 0xFF,
		}
	})
}

// Bounds implements display.Drawer for the configured rotation.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.w, d.h)
}

// Draw implements display.Drawer: it converts the source region to RGB565
// and streams it into the matching address window.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	clipped := r.Intersect(d.Bounds())
	if clipped.Empty() {
		return nil
	}
	sp = sp.Add(clipped.Min.Sub(r.Min))
	r = clipped
	px := make([]uint16, 0, r.Dx()*r.Dy())
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			cr, cg, cb, _ := src.At(sp.X+x, sp.Y+y).RGBA()
			px = append(px, encode565(uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)))
		}
	}
	d.setWindow(r.Min.X, r.Min.Y, r.Max.X-1, r.Max.Y-1)
	d.command(memoryWrite)
	d.bus.WritePixels(px)
	return nil
}

// encode565 packs 8-bit channels into RGB565.
func encode565(r, g, b uint8) uint16 {
	return (uint16(r)&0xF8)<<8 | (uint16(g)&0xFC)<<3 | uint16(b)>>3
}
