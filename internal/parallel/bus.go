// Package parallel drives a write-only 8080-style parallel bus over GPIO
// register writes. The data lines are updated with two stores (one set, one
// clear) through lookup tables built at open time, then a WR strobe latches
// the word into the panel. Widths of 8, 12 and 16 data lines are supported.
package parallel

import (
	"fmt"
	"time"

	appLog "tftmirror/internal/log"
)

// maxPin is the highest GPIO the engine will drive. All masks live in the
// first set/clear register pair, so every pin must sit in bank 0.
const maxPin = 31

// Port is the register-level GPIO surface the bus drives. bcm.Window
// implements it against /dev/gpiomem; tests substitute a recorder.
type Port interface {
	// SetOutput configures one pin as an output.
	SetOutput(pin int)
	// Set drives every pin in mask high.
	Set(mask uint32)
	// Clear drives every pin in mask low.
	Clear(mask uint32)
	// Sync orders the preceding writes against whatever follows. The bus
	// relies on it to keep data stable across the WR edge and to stretch
	// the strobe past the panel's minimum pulse width.
	Sync()
	Close() error
}

// Opts names the GPIO assignment for one bus. The bus width is the length
// of DataPins: 8, 12 or 16 lines, data bit 0 first.
type Opts struct {
	DataPins []int
	WR       int
	DC       int
	RST      int
	// CS and RD may be -1 when the board hard-wires them.
	CS int
	RD int
}

func (o *Opts) validate() error {
	switch len(o.DataPins) {
	case 8, 12, 16:
	default:
		return fmt.Errorf("parallel: bus width must be 8, 12 or 16 data pins, got %d", len(o.DataPins))
	}
	seen := make(map[int]bool)
	claim := func(pin int) error {
		if pin < 0 || pin > maxPin {
			return fmt.Errorf("parallel: pin %d out of range 0..%d", pin, maxPin)
		}
		if seen[pin] {
			return fmt.Errorf("parallel: pin %d assigned twice", pin)
		}
		seen[pin] = true
		return nil
	}
	for _, p := range o.DataPins {
		if err := claim(p); err != nil {
			return err
		}
	}
	for _, p := range []int{o.WR, o.DC, o.RST} {
		if err := claim(p); err != nil {
			return err
		}
	}
	for _, p := range []int{o.CS, o.RD} {
		if p < 0 {
			continue
		}
		if err := claim(p); err != nil {
			return err
		}
	}
	return nil
}

// Bus is an open parallel bus. It is not safe for concurrent use; the
// panel expects one writer.
type Bus struct {
	port  Port
	width int

	lo, hi      segment
	hiIndexMask uint16

	wrMask  uint32
	dcMask  uint32
	rstMask uint32
	csMask  uint32
	rdMask  uint32
}

// Open claims the pins in opts on port, drives the idle levels and builds
// the data lookup tables. The panel ends up selected (CS low, when wired)
// with WR, DC, RD and RST high.
func Open(port Port, opts *Opts) (*Bus, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	b := &Bus{
		port:    port,
		width:   len(opts.DataPins),
		wrMask:  1 << uint(opts.WR),
		dcMask:  1 << uint(opts.DC),
		rstMask: 1 << uint(opts.RST),
	}
	if opts.CS >= 0 {
		b.csMask = 1 << uint(opts.CS)
	}
	if opts.RD >= 0 {
		b.rdMask = 1 << uint(opts.RD)
	}

	for _, p := range []int{opts.WR, opts.DC, opts.RST} {
		port.SetOutput(p)
	}
	if opts.CS >= 0 {
		port.SetOutput(opts.CS)
	}
	if opts.RD >= 0 {
		port.SetOutput(opts.RD)
	}
	for _, p := range opts.DataPins {
		port.SetOutput(p)
	}

	// Idle: strobe and data/command select inactive, read strobe parked
	// high, panel out of reset and selected.
	port.Set(b.wrMask | b.dcMask | b.rstMask | b.rdMask)
	if b.csMask != 0 {
		port.Clear(b.csMask)
	}
	port.Sync()

	b.lo = buildSegment(opts.DataPins[:8])
	b.hi = buildSegment(opts.DataPins[8:])
	b.hiIndexMask = uint16(1<<uint(len(opts.DataPins)-8) - 1)

	appLog.Info("parallel bus ready",
		"width", b.width, "wr", opts.WR, "dc", opts.DC, "rst", opts.RST)
	return b, nil
}

// Width reports the number of data lines.
func (b *Bus) Width() int {
	return b.width
}

// write places one word on the data lines and strobes WR. Two stores set
// and clear the data pins from the lookup tables, then WR drops, the sync
// holds it low long enough for the panel, and the rising edge latches.
func (b *Bus) write(word uint16) {
	lo := word & 0xff
	hi := (word >> 8) & b.hiIndexMask
	b.port.Set(b.lo.set[lo] | b.hi.set[hi])
	b.port.Clear(b.lo.clr[lo] | b.hi.clr[hi])
	b.port.Clear(b.wrMask)
	b.port.Sync()
	b.port.Set(b.wrMask)
}

// WriteCommand sends one command byte with DC low, then returns DC to the
// data level. Both DC edges are synced so they cannot drift across the
// strobe.
func (b *Bus) WriteCommand(cmd byte) {
	b.port.Clear(b.dcMask)
	b.port.Sync()
	b.write(uint16(cmd))
	b.port.Set(b.dcMask)
	b.port.Sync()
}

// WriteData sends one parameter byte with DC high. On buses wider than 8
// bits the upper data lines carry zero.
func (b *Bus) WriteData(v byte) {
	b.write(uint16(v))
}

// WritePixels streams RGB565 pixels. A 16-bit bus takes one strobe per
// pixel, a 12-bit bus carries each pixel quantized to RGB444, and an 8-bit
// bus splits each pixel high byte first.
func (b *Bus) WritePixels(px []uint16) {
	switch b.width {
	case 16:
		for _, p := range px {
			b.write(p)
		}
	case 12:
		for _, p := range px {
			b.write(rgb444(p))
		}
	case 8:
		for _, p := range px {
			b.write(p >> 8)
			b.write(p & 0xff)
		}
	}
}

// rgb444 keeps the top four bits of each RGB565 channel, red in bits 11:8.
func rgb444(p uint16) uint16 {
	r := (p >> 12) & 0xf
	g := (p >> 7) & 0xf
	bl := (p >> 1) & 0xf
	return r<<8 | g<<4 | bl
}

// Reset pulses the panel's reset line: 20ms low, then 120ms for the panel
// to come back up.
func (b *Bus) Reset() {
	b.port.Clear(b.rstMask)
	b.port.Sync()
	time.Sleep(20 * time.Millisecond)
	b.port.Set(b.rstMask)
	b.port.Sync()
	time.Sleep(120 * time.Millisecond)
}

// Close deselects the panel and releases the port.
func (b *Bus) Close() error {
	if b.csMask != 0 {
		b.port.Set(b.csMask)
		b.port.Sync()
	}
	return b.port.Close()
}
