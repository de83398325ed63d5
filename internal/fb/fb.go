// Package fb reads a Linux framebuffer device as the pixel source for the
// mirror loop. The mapping is read-only; whatever renders into the
// framebuffer keeps doing so unaware of the mirror.
package fb

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	appLog "tftmirror/internal/log"
)

// <linux/fb.h> ioctls
const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602
)

// bitField is <linux/fb.h> struct fb_bitfield: one channel's position
// inside the pixel, offset counted from the right.
type bitField struct {
	Offset   uint32
	Length   uint32
	MsbRight uint32
}

// varScreenInfo is <linux/fb.h> struct fb_var_screeninfo.
type varScreenInfo struct {
	XRes, YRes               uint32
	XResVirtual, YResVirtual uint32
	XOffset, YOffset         uint32
	BitsPerPixel             uint32
	Grayscale                uint32
	Red, Green, Blue, Alpha  bitField
	NonStd                   uint32
	Activate                 uint32
	Height, Width            uint32
	_                        uint32
	PixelClock               uint32
	LeftMargin, RightMargin  uint32
	UpperMargin, LowerMargin uint32
	HSyncLen, VSyncLen       uint32
	Sync                     uint32
	VMode                    uint32
	Rotate                   uint32
	ColorSpace               uint32
	_                        [4]uint32
}

// fixScreenInfo is <linux/fb.h> struct fb_fix_screeninfo.
type fixScreenInfo struct {
	ID           [16]byte
	SMemStart    uintptr
	SMemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	LineLength   uint32
	MmioStart    uintptr
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	_            [2]uint16
}

// Channel is one color component's bit position inside a 32bpp pixel.
type Channel struct {
	Offset uint32
	Length uint32
}

// Desc is the source geometry and pixel layout, captured once at open.
// The channel fields only matter for 32bpp sources; 16bpp sources are
// taken as RGB565 directly.
type Desc struct {
	Width  int
	Height int
	BPP    int
	Stride int
	Red    Channel
	Green  Channel
	Blue   Channel
}

// Device is an open, mapped framebuffer.
type Device struct {
	f    *os.File
	mem  []byte
	desc Desc
}

// Open maps path read-only and captures its pixel layout. Sources must be
// 16bpp or 32bpp; anything else fails here rather than mid-mirror.
func Open(path string) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fb: open %s: %w", path, err)
	}
	var vi varScreenInfo
	if err := ioctl(f, fbioGetVScreenInfo, unsafe.Pointer(&vi)); err != nil {
		f.Close()
		return nil, fmt.Errorf("fb: read variable screen info: %w", err)
	}
	var fi fixScreenInfo
	if err := ioctl(f, fbioGetFScreenInfo, unsafe.Pointer(&fi)); err != nil {
		f.Close()
		return nil, fmt.Errorf("fb: read fixed screen info: %w", err)
	}
	if vi.BitsPerPixel != 16 && vi.BitsPerPixel != 32 {
		f.Close()
		return nil, fmt.Errorf("fb: unsupported depth %d bpp, want 16 or 32", vi.BitsPerPixel)
	}
	stride := int(fi.LineLength)
	if stride == 0 {
		stride = int(vi.XRes) * int(vi.BitsPerPixel) / 8
	}
	size := int(fi.SMemLen)
	if size == 0 {
		size = int(vi.YResVirtual) * stride
	}
	if size == 0 {
		size = int(vi.YRes) * stride
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fb: map %d bytes: %w", size, err)
	}
	d := &Device{
		f:   f,
		mem: mem,
		desc: Desc{
			Width:  int(vi.XRes),
			Height: int(vi.YRes),
			BPP:    int(vi.BitsPerPixel),
			Stride: stride,
			Red:    Channel{vi.Red.Offset, vi.Red.Length},
			Green:  Channel{vi.Green.Offset, vi.Green.Length},
			Blue:   Channel{vi.Blue.Offset, vi.Blue.Length},
		},
	}
	appLog.Info("framebuffer mapped", "device", path,
		"width", d.desc.Width, "height", d.desc.Height,
		"bpp", d.desc.BPP, "stride", d.desc.Stride)
	return d, nil
}

func ioctl(f *os.File, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Desc reports the captured source layout.
func (d *Device) Desc() Desc {
	return d.desc
}

// Close unmaps the framebuffer and closes the device.
func (d *Device) Close() error {
	if d.mem != nil {
		if err := unix.Munmap(d.mem); err != nil {
			d.f.Close()
			return fmt.Errorf("fb: unmap: %w", err)
		}
		d.mem = nil
	}
	return d.f.Close()
}
