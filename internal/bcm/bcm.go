// Package bcm gives exclusive, memory-mapped access to the BCM283x GPIO
// register block through /dev/gpiomem.
//
// The Window type owns the 4 KB mapping for its whole lifetime and exposes
// exactly the four registers the parallel bus engine needs: GPFSEL for pin
// function selection, GPSET0/GPCLR0 for multi-pin level writes, and GPLEV0
// as a read-back barrier. All level accesses are 32-bit atomics so stores
// reach the peripheral in program order.
//
// Raspberry Pi 5 boards route GPIO through the RP1 chip, which has a
// different register layout; the Prober rejects them at open time instead of
// silently mis-driving pins.
package bcm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	gpioMemPath = "/dev/gpiomem"
	windowBytes = 4096
)

// Register word indices into the mapped window.
const (
	regFsel0 = 0x00 / 4
	regSet0  = 0x1C / 4
	regClr0  = 0x28 / 4
	regLev0  = 0x34 / 4
)

// FselWord returns the GPFSEL register index (relative to GPFSEL0) holding
// the function field of pin. Ten pins per register, three bits each.
func FselWord(pin int) int { return pin / 10 }

// FselShift returns the bit offset of pin's 3-bit function field within its
// GPFSEL register.
func FselShift(pin int) uint { return uint(pin%10) * 3 }

// PinMask returns the single-bit mask for pin in the bank-0 set/clear/level
// registers.
func PinMask(pin int) uint32 { return 1 << uint(pin) }

// Window is the process's handle on the GPIO register block.
type Window struct {
	f    *os.File
	mem  []byte
	regs []uint32
}

// Open probes the platform and maps the GPIO registers. On a rejected
// platform no mapping is left behind.
func Open(p Prober) (*Window, error) {
	if err := p.Supported(); err != nil {
		return nil, fmt.Errorf("bcm: platform not supported: %w", err)
	}

	f, err := os.OpenFile(gpioMemPath, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("bcm: open %s (run as root or join the gpio group): %w", gpioMemPath, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, windowBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bcm: mmap %s: %w", gpioMemPath, err)
	}

	return &Window{
		f:    f,
		mem:  mem,
		regs: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), windowBytes/4),
	}, nil
}

// SetOutput configures pin as a plain GPIO output (function field 001).
func (w *Window) SetOutput(pin int) {
	word := regFsel0 + FselWord(pin)
	shift := FselShift(pin)
	v := atomic.LoadUint32(&w.regs[word])
	v &^= 7 << shift
	v |= 1 << shift
	atomic.StoreUint32(&w.regs[word], v)
}

// Set drives every pin in mask high.
func (w *Window) Set(mask uint32) {
	atomic.StoreUint32(&w.regs[regSet0], mask)
}

// Clear drives every pin in mask low.
func (w *Window) Clear(mask uint32) {
	atomic.StoreUint32(&w.regs[regClr0], mask)
}

// Sync orders all prior register stores ahead of whatever follows. The
// GPLEV0 read-back costs one bus round trip, which also holds the write
// strobe past the panel's minimum pulse width.
func (w *Window) Sync() {
	atomic.LoadUint32(&w.regs[regLev0])
}

// Close releases the mapping and the file handle. The Window must not be
// used afterwards.
func (w *Window) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	w.regs = nil
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
