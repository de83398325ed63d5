package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"periph.io/x/conn/v3/display"

	"tftmirror/internal/bcm"
	"tftmirror/internal/config"
	"tftmirror/internal/fb"
	"tftmirror/internal/ili9481"
	appLog "tftmirror/internal/log"
	"tftmirror/internal/mirror"
	"tftmirror/internal/parallel"
	"tftmirror/internal/preview"
	"tftmirror/internal/testcard"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath  string
	fbDevice    string
	rotate      int
	fps         int
	once        bool
	testPattern bool
	benchmark   bool
	preview     bool
}

func main() {
	appLog.Info("tftmirror starting", "version", "0.1.0-dev")

	// Parse CLI flags.
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file where provided.
	if flags.fbDevice != "" {
		conf.FBDevice = flags.fbDevice
	}
	if flags.rotate >= 0 {
		conf.Rotation = flags.rotate
	}
	if flags.fps > 0 {
		conf.FPS = flags.fps
	}
	conf.Normalize()

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"fb_device", conf.FBDevice,
		"rotation", conf.Rotation,
		"fps", conf.FPS,
		"bus_width", len(conf.Bus.DataPins),
		"blank_cron", conf.BlankCron,
		"wake_cron", conf.WakeCron,
		"once", flags.once,
		"test_pattern", flags.testPattern,
		"benchmark", flags.benchmark,
		"preview", flags.preview,
	)

	// Scheduled blanking. The expressions are checked before any hardware
	// is touched so a typo fails fast.
	var blanked atomic.Bool
	if conf.BlankCron != "" || conf.WakeCron != "" {
		sched := cron.New()
		if conf.BlankCron != "" {
			if _, err := sched.AddFunc(conf.BlankCron, func() { blanked.Store(true) }); err != nil {
				appLog.Error("invalid blank_cron", err, "expr", conf.BlankCron)
				os.Exit(1)
			}
		}
		if conf.WakeCron != "" {
			if _, err := sched.AddFunc(conf.WakeCron, func() { blanked.Store(false) }); err != nil {
				appLog.Error("invalid wake_cron", err, "expr", conf.WakeCron)
				os.Exit(1)
			}
		}
		sched.Start()
		defer sched.Stop()
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// The framebuffer is only needed when mirroring it.
	var src *fb.Device
	if !flags.testPattern && !flags.benchmark {
		src, err = fb.Open(conf.FBDevice)
		if err != nil {
			appLog.Error("failed to open framebuffer", err, "fb_device", conf.FBDevice)
			os.Exit(1)
		}
		defer src.Close()
	}

	// Open the output: the panel itself, or a terminal emulation of it.
	var (
		sink mirror.Sink
		dev  *ili9481.Dev
		term *preview.Dev
	)
	if flags.preview {
		w, h := ili9481.Size(conf.Rotation)
		term = preview.New(&preview.Opts{Width: w, Height: h})
		sink = term
	} else {
		win, err := bcm.Open(bcm.DefaultProber())
		if err != nil {
			appLog.Error("failed to open GPIO", err)
			os.Exit(1)
		}
		bus, err := parallel.Open(win, busOpts(conf.Bus))
		if err != nil {
			appLog.Error("failed to open parallel bus", err)
			win.Close()
			os.Exit(1)
		}
		defer func() {
			if err := bus.Close(); err != nil {
				appLog.Error("failed to close bus", err)
			}
		}()
		dev = ili9481.New(bus, &ili9481.Opts{Rotation: conf.Rotation})
		dev.Init()
		sink = dev
	}

	switch {
	case flags.benchmark:
		fps := mirror.Benchmark(sink, 100)
		fmt.Printf("%.1f fps\n", fps)

	case flags.testPattern:
		runTestPattern(ctx, sink)

	case flags.once:
		b := sink.Bounds()
		px := make([]uint16, b.Dx()*b.Dy())
		src.Render(px, b.Dx(), b.Dy())
		if err := sink.FlushFull(px); err != nil {
			appLog.Error("flush failed", err)
		}

	default:
		loop := &mirror.Loop{Sink: sink, Source: src, FPS: conf.FPS}
		if dev != nil {
			loop.Blanker = dev
			loop.Blanked = &blanked
		}
		loop.Run(ctx)
		if dev != nil {
			dev.PowerOff()
		}
	}

	if term != nil {
		if err := term.Halt(); err != nil {
			appLog.Error("failed to reset terminal", err)
		}
	}
	appLog.Info("tftmirror exiting")
}

// runTestPattern cycles the solid fills, then shows the alignment card.
func runTestPattern(ctx context.Context, sink mirror.Sink) {
	b := sink.Bounds()
	px := make([]uint16, b.Dx()*b.Dy())
	for _, f := range testcard.Fills {
		appLog.Info("test pattern", "fill", f.Name)
		testcard.Solid(px, f.Value)
		if err := sink.FlushFull(px); err != nil {
			appLog.Error("flush failed", err)
			return
		}
		if !sleepCtx(ctx, 3*time.Second) {
			return
		}
	}
	drawer, ok := sink.(display.Drawer)
	if !ok {
		return
	}
	appLog.Info("test pattern", "fill", "card")
	card := testcard.Card(b.Dx(), b.Dy(), "tftmirror")
	if err := drawer.Draw(b, card, image.Point{}); err != nil {
		appLog.Error("failed to draw test card", err)
		return
	}
	sleepCtx(ctx, 3*time.Second)
}

// sleepCtx pauses for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// busOpts maps the YAML wiring block onto the bus driver options.
func busOpts(b config.BusConfig) *parallel.Opts {
	return &parallel.Opts{
		DataPins: b.DataPins,
		WR:       b.WRPin,
		DC:       b.DCPin,
		RST:      b.RSTPin,
		CS:       b.CSPin,
		RD:       b.RDPin,
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/tftmirror/config.yaml", "Path to config file")
	flag.StringVar(&cfg.fbDevice, "fb", "", "Framebuffer device to mirror (overrides config if set)")
	flag.IntVar(&cfg.rotate, "rotate", -1, "Panel rotation in degrees (overrides config if set)")
	flag.IntVar(&cfg.fps, "fps", 0, "Mirror frame rate (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Mirror one frame and exit, leaving it on the panel")
	flag.BoolVar(&cfg.testPattern, "test-pattern", false, "Show solid fills and an alignment card, then exit")
	flag.BoolVar(&cfg.benchmark, "benchmark", false, "Measure flush throughput and exit")
	flag.BoolVar(&cfg.preview, "preview", false, "Render to the terminal instead of the panel")

	flag.Parse()

	return cfg
}
