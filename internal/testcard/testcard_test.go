package testcard

import (
	"image"
	"testing"
)

func TestSolid(t *testing.T) {
	dst := make([]uint16, 64)
	Solid(dst, 0xF800)
	for i, v := range dst {
		if v != 0xF800 {
			t.Fatalf("dst[%d] = %#04x, want 0xf800", i, v)
		}
	}
	Solid(dst, 0)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %#04x after clear, want 0", i, v)
		}
	}
}

func TestFillsCoverPrimaries(t *testing.T) {
	want := map[string]uint16{
		"red":   0xF800,
		"green": 0x07E0,
		"blue":  0x001F,
		"white": 0xFFFF,
		"black": 0x0000,
	}
	if len(Fills) != len(want) {
		t.Fatalf("len(Fills) = %d, want %d", len(Fills), len(want))
	}
	for _, f := range Fills {
		v, ok := want[f.Name]
		if !ok {
			t.Errorf("unexpected fill %q", f.Name)
			continue
		}
		if f.Value != v {
			t.Errorf("fill %q = %#04x, want %#04x", f.Name, f.Value, v)
		}
	}
}

func sample(img image.Image, x, y int) (r, g, b uint32) {
	r16, g16, b16, _ := img.At(x, y).RGBA()
	return r16 >> 8, g16 >> 8, b16 >> 8
}

func near(got, want uint32) bool {
	return got+16 > want && got < want+16
}

func TestCardBars(t *testing.T) {
	img := Card(320, 240, "hi")
	if got := img.Bounds(); got.Dx() != 320 || got.Dy() != 240 {
		t.Fatalf("bounds = %v, want 320x240", got)
	}
	for i, want := range []struct {
		name    string
		r, g, b uint32
	}{
		{"white", 255, 255, 255},
		{"yellow", 255, 255, 0},
		{"cyan", 0, 255, 255},
		{"green", 0, 255, 0},
		{"magenta", 255, 0, 255},
		{"red", 255, 0, 0},
		{"blue", 0, 0, 255},
		{"black", 0, 0, 0},
	} {
		x := i*40 + 20
		r, g, b := sample(img, x, 60)
		if !near(r, want.r) || !near(g, want.g) || !near(b, want.b) {
			t.Errorf("bar %d (%s) = %d,%d,%d, want %d,%d,%d",
				i, want.name, r, g, b, want.r, want.g, want.b)
		}
	}
}

func TestCardGradient(t *testing.T) {
	img := Card(320, 240, "hi")
	left, _, _ := sample(img, 8, 150)
	mid, mg, mb := sample(img, 160, 150)
	right, _, _ := sample(img, 312, 150)
	if left > 0x30 {
		t.Errorf("gradient left = %d, want near black", left)
	}
	if right < 0xd0 {
		t.Errorf("gradient right = %d, want near white", right)
	}
	if mid <= left || mid >= right {
		t.Errorf("gradient not monotonic: left %d, mid %d, right %d", left, mid, right)
	}
	if !near(mg, mid) || !near(mb, mid) {
		t.Errorf("gradient mid = %d,%d,%d, want gray", mid, mg, mb)
	}
}

func TestCardFrameAndBackground(t *testing.T) {
	img := Card(320, 240, "hi")
	if r, g, b := sample(img, 160, 238); r < 0xc0 || g < 0xc0 || b < 0xc0 {
		t.Errorf("frame at 160,238 = %d,%d,%d, want white", r, g, b)
	}
	if r, g, b := sample(img, 40, 220); r > 0x20 || g > 0x20 || b > 0x20 {
		t.Errorf("background at 40,220 = %d,%d,%d, want black", r, g, b)
	}
}
