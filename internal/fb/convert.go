package fb

import "encoding/binary"

// Render fills dst with the current frame scaled to width x height RGB565.
// Nearest neighbor with integer truncation: destination pixel (dx,dy)
// samples source pixel (dx*srcW/dstW, dy*srcH/dstH).
func (d *Device) Render(dst []uint16, width, height int) {
	switch d.desc.BPP {
	case 16:
		render16(dst, width, height, d.mem, d.desc)
	case 32:
		render32(dst, width, height, d.mem, d.desc)
	}
}

func render16(dst []uint16, width, height int, src []byte, desc Desc) {
	for dy := 0; dy < height; dy++ {
		row := dy * desc.Height / height * desc.Stride
		for dx := 0; dx < width; dx++ {
			sx := dx * desc.Width / width
			dst[dy*width+dx] = binary.LittleEndian.Uint16(src[row+sx*2:])
		}
	}
}

func render32(dst []uint16, width, height int, src []byte, desc Desc) {
	for dy := 0; dy < height; dy++ {
		row := dy * desc.Height / height * desc.Stride
		for dx := 0; dx < width; dx++ {
			sx := dx * desc.Width / width
			px := binary.LittleEndian.Uint32(src[row+sx*4:])
			r := field(px, desc.Red, 5)
			g := field(px, desc.Green, 6)
			b := field(px, desc.Blue, 5)
			dst[dy*width+dx] = r<<11 | g<<5 | b
		}
	}
}

// field extracts one channel and requantizes it to want bits by shifting
// by the width difference, no rounding.
func field(px uint32, c Channel, want uint32) uint16 {
	v := (px >> c.Offset) & (1<<c.Length - 1)
	if c.Length > want {
		v >>= c.Length - want
	} else {
		v <<= want - c.Length
	}
	return uint16(v)
}
