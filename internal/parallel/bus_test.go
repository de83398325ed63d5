package parallel

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	appLog "tftmirror/internal/log"
)

func TestMain(m *testing.M) {
	appLog.SetLevel(appLog.LevelError)
	os.Exit(m.Run())
}

// fakePort records every register-level operation and tracks pin levels so
// tests can replay what a panel wired to the bus would have seen.
type fakePort struct {
	ops    []regOp
	level  uint32
	closed bool
}

type regOp struct {
	Kind string // "fsel", "set", "clr" or "sync"
	Pin  int
	Mask uint32
}

func (f *fakePort) SetOutput(pin int) {
	f.ops = append(f.ops, regOp{Kind: "fsel", Pin: pin})
}

func (f *fakePort) Set(mask uint32) {
	f.level |= mask
	f.ops = append(f.ops, regOp{Kind: "set", Mask: mask})
}

func (f *fakePort) Clear(mask uint32) {
	f.level &^= mask
	f.ops = append(f.ops, regOp{Kind: "clr", Mask: mask})
}

func (f *fakePort) Sync() {
	f.ops = append(f.ops, regOp{Kind: "sync"})
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

// latchedWords replays ops recorded after open and samples the data pins at
// every WR rising edge, the moment the panel latches.
func latchedWords(ops []regOp, dataPins []int, wrPin int) []uint16 {
	wrMask := uint32(1) << uint(wrPin)
	level := wrMask // strobe parked high after open
	var words []uint16
	for _, op := range ops {
		switch op.Kind {
		case "set":
			rising := op.Mask&wrMask != 0 && level&wrMask == 0
			level |= op.Mask
			if rising {
				var w uint16
				for i, p := range dataPins {
					if level&(1<<uint(p)) != 0 {
						w |= 1 << uint(i)
					}
				}
				words = append(words, w)
			}
		case "clr":
			level &^= op.Mask
		}
	}
	return words
}

// simpleOpts maps data bit i to pin i so expected masks can be written as
// literals.
func simpleOpts() *Opts {
	return &Opts{
		DataPins: []int{0, 1, 2, 3, 4, 5, 6, 7},
		WR:       8,
		DC:       9,
		RST:      10,
		CS:       11,
		RD:       12,
	}
}

const (
	wrBit = 1 << 8
	dcBit = 1 << 9
)

func TestOptsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Opts)
		wantErr bool
	}{
		{name: "8-bit", mutate: func(*Opts) {}},
		{name: "12-bit", mutate: func(o *Opts) { o.DataPins = append(o.DataPins, 13, 14, 15, 16) }},
		{name: "16-bit", mutate: func(o *Opts) { o.DataPins = append(o.DataPins, 13, 14, 15, 16, 19, 20, 21, 26) }},
		{name: "unwired cs and rd", mutate: func(o *Opts) { o.CS, o.RD = -1, -1 }},
		{name: "ten data pins", mutate: func(o *Opts) { o.DataPins = append(o.DataPins, 13, 14) }, wantErr: true},
		{name: "data pin out of range", mutate: func(o *Opts) { o.DataPins[0] = 32 }, wantErr: true},
		{name: "duplicate data pin", mutate: func(o *Opts) { o.DataPins[1] = o.DataPins[0] }, wantErr: true},
		{name: "strobe collides with data", mutate: func(o *Opts) { o.WR = o.DataPins[3] }, wantErr: true},
		{name: "unwired reset", mutate: func(o *Opts) { o.RST = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := simpleOpts()
			tt.mutate(opts)
			err := opts.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenRejectsBadOpts(t *testing.T) {
	port := &fakePort{}
	opts := simpleOpts()
	opts.DataPins = opts.DataPins[:3]
	if _, err := Open(port, opts); err == nil {
		t.Fatal("Open accepted a 3-pin bus")
	}
	if len(port.ops) != 0 {
		t.Errorf("Open touched the port before validating: %v", port.ops)
	}
}

func TestOpenConfiguresBus(t *testing.T) {
	port := &fakePort{}
	b, err := Open(port, simpleOpts())
	if err != nil {
		t.Fatal(err)
	}
	var fsel []int
	for _, op := range port.ops {
		if op.Kind == "fsel" {
			fsel = append(fsel, op.Pin)
		}
	}
	want := []int{8, 9, 10, 11, 12, 0, 1, 2, 3, 4, 5, 6, 7}
	if diff := cmp.Diff(want, fsel); diff != "" {
		t.Errorf("configured outputs mismatch (-want +got):\n%s", diff)
	}
	const high = wrBit | dcBit | 1<<10 | 1<<12
	if port.level&high != high {
		t.Errorf("idle levels = %#x, want WR, DC, RST and RD high", port.level)
	}
	if port.level&(1<<11) != 0 {
		t.Errorf("idle levels = %#x, want CS low", port.level)
	}
	if got := b.Width(); got != 8 {
		t.Errorf("Width() = %d, want 8", got)
	}
}

func TestWriteDataSequence(t *testing.T) {
	tests := []struct {
		name  string
		value byte
		want  []regOp
	}{
		{
			name:  "mixed bits",
			value: 0xa5,
			want: []regOp{
				{Kind: "set", Mask: 0xa5},
				{Kind: "clr", Mask: 0x5a},
				{Kind: "clr", Mask: wrBit},
				{Kind: "sync"},
				{Kind: "set", Mask: wrBit},
			},
		},
		{
			name:  "all zero",
			value: 0x00,
			want: []regOp{
				{Kind: "set", Mask: 0x00},
				{Kind: "clr", Mask: 0xff},
				{Kind: "clr", Mask: wrBit},
				{Kind: "sync"},
				{Kind: "set", Mask: wrBit},
			},
		},
		{
			name:  "all ones",
			value: 0xff,
			want: []regOp{
				{Kind: "set", Mask: 0xff},
				{Kind: "clr", Mask: 0x00},
				{Kind: "clr", Mask: wrBit},
				{Kind: "sync"},
				{Kind: "set", Mask: wrBit},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			b, err := Open(port, simpleOpts())
			if err != nil {
				t.Fatal(err)
			}
			port.ops = nil
			b.WriteData(tt.value)
			if diff := cmp.Diff(tt.want, port.ops); diff != "" {
				t.Errorf("register writes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteCommandSequence(t *testing.T) {
	port := &fakePort{}
	b, err := Open(port, simpleOpts())
	if err != nil {
		t.Fatal(err)
	}
	port.ops = nil
	b.WriteCommand(0x2c)
	want := []regOp{
		{Kind: "clr", Mask: dcBit},
		{Kind: "sync"},
		{Kind: "set", Mask: 0x2c},
		{Kind: "clr", Mask: 0xd3},
		{Kind: "clr", Mask: wrBit},
		{Kind: "sync"},
		{Kind: "set", Mask: wrBit},
		{Kind: "set", Mask: dcBit},
		{Kind: "sync"},
	}
	if diff := cmp.Diff(want, port.ops); diff != "" {
		t.Errorf("register writes mismatch (-want +got):\n%s", diff)
	}
}

func TestWritePixelsChunking(t *testing.T) {
	tests := []struct {
		name     string
		dataPins []int
		px       []uint16
		want     []uint16
	}{
		{
			name:     "16-bit one strobe per pixel",
			dataPins: []int{9, 11, 10, 22, 27, 17, 4, 3, 5, 6, 12, 13, 14, 15, 16, 19},
			px:       []uint16{0xabcd, 0x0000, 0xffff},
			want:     []uint16{0xabcd, 0x0000, 0xffff},
		},
		{
			name:     "12-bit quantizes to RGB444",
			dataPins: []int{9, 11, 10, 22, 27, 17, 4, 3, 5, 6, 12, 13},
			px:       []uint16{0xf800, 0x07e0, 0x001f, 0xffff},
			want:     []uint16{0xf00, 0x0f0, 0x00f, 0xfff},
		},
		{
			name:     "8-bit splits high byte first",
			dataPins: []int{9, 11, 10, 22, 27, 17, 4, 3},
			px:       []uint16{0xabcd},
			want:     []uint16{0xab, 0xcd},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			opts := &Opts{DataPins: tt.dataPins, WR: 23, DC: 24, RST: 25, CS: 8, RD: 18}
			b, err := Open(port, opts)
			if err != nil {
				t.Fatal(err)
			}
			port.ops = nil
			b.WritePixels(tt.px)
			got := latchedWords(port.ops, tt.dataPins, opts.WR)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("latched words mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRGB444(t *testing.T) {
	tests := []struct {
		px   uint16
		want uint16
	}{
		{0xf800, 0xf00},
		{0x07e0, 0x0f0},
		{0x001f, 0x00f},
		{0xffff, 0xfff},
		{0x0000, 0x000},
		{0x8410, 0x888}, // mid gray keeps the high nibbles
	}
	for _, tt := range tests {
		if got := rgb444(tt.px); got != tt.want {
			t.Errorf("rgb444(%#04x) = %#03x, want %#03x", tt.px, got, tt.want)
		}
	}
}

func TestReset(t *testing.T) {
	port := &fakePort{}
	b, err := Open(port, simpleOpts())
	if err != nil {
		t.Fatal(err)
	}
	port.ops = nil
	start := time.Now()
	b.Reset()
	elapsed := time.Since(start)
	want := []regOp{
		{Kind: "clr", Mask: 1 << 10},
		{Kind: "sync"},
		{Kind: "set", Mask: 1 << 10},
		{Kind: "sync"},
	}
	if diff := cmp.Diff(want, port.ops); diff != "" {
		t.Errorf("register writes mismatch (-want +got):\n%s", diff)
	}
	if elapsed < 140*time.Millisecond {
		t.Errorf("Reset returned after %v, want at least 140ms of hold time", elapsed)
	}
}

func TestClose(t *testing.T) {
	t.Run("deselects wired cs", func(t *testing.T) {
		port := &fakePort{}
		b, err := Open(port, simpleOpts())
		if err != nil {
			t.Fatal(err)
		}
		port.ops = nil
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
		want := []regOp{
			{Kind: "set", Mask: 1 << 11},
			{Kind: "sync"},
		}
		if diff := cmp.Diff(want, port.ops); diff != "" {
			t.Errorf("register writes mismatch (-want +got):\n%s", diff)
		}
		if !port.closed {
			t.Error("port not released")
		}
	})
	t.Run("unwired cs", func(t *testing.T) {
		port := &fakePort{}
		opts := simpleOpts()
		opts.CS, opts.RD = -1, -1
		b, err := Open(port, opts)
		if err != nil {
			t.Fatal(err)
		}
		port.ops = nil
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
		if len(port.ops) != 0 {
			t.Errorf("unexpected register writes: %v", port.ops)
		}
		if !port.closed {
			t.Error("port not released")
		}
	})
}
