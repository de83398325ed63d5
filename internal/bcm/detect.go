package bcm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"periph.io/x/host/v3"
	"periph.io/x/host/v3/rpi"

	appLog "tftmirror/internal/log"
)

// Prober decides whether the running platform exposes the BCM283x GPIO
// register layout this package writes to. Tests substitute fakes.
type Prober interface {
	// Supported returns nil when it is safe to map /dev/gpiomem and drive
	// pins, and a descriptive error otherwise.
	Supported() error
}

// DefaultProber returns the production prober: periph host detection plus a
// /proc/cpuinfo check that rejects the Pi 5 family.
func DefaultProber() Prober {
	return &hostProber{cpuinfoPath: "/proc/cpuinfo"}
}

type hostProber struct {
	cpuinfoPath string
}

func (p *hostProber) Supported() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	if !rpi.Present() {
		return errors.New("not a Raspberry Pi")
	}

	data, err := os.ReadFile(p.cpuinfoPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", p.cpuinfoPath, err)
	}
	return checkCPUInfo(string(data))
}

// New-style revision codes carry the board type in bits 4..11; 0x17 is the
// Pi 5. Its GPIO lives on the RP1 chip and is not reachable through the
// BCM283x register block.
const (
	newStyleRevisionFlag = 1 << 23
	pi5BoardType         = 0x17
)

func checkCPUInfo(info string) error {
	foundRevision := false

	for _, line := range strings.Split(info, "\n") {
		if strings.Contains(line, "Model") && strings.Contains(line, "Pi 5") {
			return errors.New("Raspberry Pi 5 detected: RP1 GPIO cannot be driven over /dev/gpiomem MMIO")
		}

		if !strings.HasPrefix(line, "Revision") {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rev, err := strconv.ParseUint(strings.TrimSpace(value), 16, 64)
		if err != nil {
			continue
		}
		foundRevision = true
		if rev&newStyleRevisionFlag != 0 && (rev>>4)&0xFF == pi5BoardType {
			return errors.New("Raspberry Pi 5 detected (revision type 0x17): RP1 GPIO is unsupported")
		}
	}

	if !foundRevision {
		appLog.Warn("no Revision line in cpuinfo, assuming BCM283x GPIO")
	}
	return nil
}
