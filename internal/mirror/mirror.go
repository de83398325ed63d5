// Package mirror paces frame production: it renders a source into a
// panel-native buffer and flushes it to a sink at a fixed rate using
// absolute deadlines, so slow frames never shift later ones.
package mirror

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	appLog "tftmirror/internal/log"
)

// Sink accepts finished frames. ili9481.Dev implements it. FlushFull
// fails only on a frame that does not match Bounds, which the loop rules
// out by allocating from Bounds.
type Sink interface {
	Bounds() image.Rectangle
	FlushFull(px []uint16) error
}

// Source fills a panel-resolution buffer with the next frame. fb.Device
// implements it.
type Source interface {
	Render(dst []uint16, width, height int)
}

// Blanker turns the panel output on and off without ending the mirror.
type Blanker interface {
	DisplayOn()
	DisplayOff()
}

// Loop mirrors Source to Sink at FPS frames per second.
type Loop struct {
	Sink   Sink
	Source Source
	FPS    int

	// Blanker, when set, is driven by Blanked: while the flag is up the
	// loop blanks the panel and stops flushing, but keeps pacing so it
	// can wake within one frame interval.
	Blanker Blanker
	Blanked *atomic.Bool
}

// Run mirrors frames until ctx is canceled. Frame N is due at
// start + N*interval; when conversion and flush overrun the interval the
// next wait is already due and the loop simply runs late, it never drops
// a frame. Achieved throughput is reported every ten seconds' worth of
// frames.
func (l *Loop) Run(ctx context.Context) {
	bounds := l.Sink.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := make([]uint16, w*h)

	fps := l.FPS
	if fps <= 0 {
		fps = 30
	}
	interval := time.Second / time.Duration(fps)
	report := fps * 10

	appLog.Info("mirror loop started", "width", w, "height", h, "fps", fps)
	start := time.Now()
	deadline := start
	timer := time.NewTimer(0)
	defer timer.Stop()

	frames := 0
	blanked := false
	defer func() {
		appLog.Info("mirror loop stopped", "frames", frames)
	}()
	for {
		timer.Reset(time.Until(deadline))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if ctx.Err() != nil {
				return
			}
		}
		if l.Blanker != nil && l.Blanked != nil {
			if want := l.Blanked.Load(); want != blanked {
				if want {
					l.Blanker.DisplayOff()
					appLog.Info("display blanked")
				} else {
					l.Blanker.DisplayOn()
					appLog.Info("display woken")
				}
				blanked = want
			}
		}
		if !blanked {
			l.Source.Render(dst, w, h)
			if err := l.Sink.FlushFull(dst); err != nil {
				appLog.Error("flush failed", err)
				return
			}
			frames++
			if frames%report == 0 {
				elapsed := time.Since(start)
				appLog.Info("throughput",
					"frames", frames,
					"fps", fmt.Sprintf("%.1f", float64(frames)/elapsed.Seconds()))
			}
		}
		deadline = deadline.Add(interval)
	}
}

// Benchmark flushes n full frames of per-frame solid patterns as fast as
// the sink accepts them and reports the achieved rate.
func Benchmark(sink Sink, n int) float64 {
	bounds := sink.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := make([]uint16, w*h)

	start := time.Now()
	for i := 0; i < n; i++ {
		v := uint16(i)
		for j := range dst {
			dst[j] = v
		}
		if err := sink.FlushFull(dst); err != nil {
			appLog.Error("flush failed", err)
			return 0
		}
	}
	elapsed := time.Since(start)
	fps := float64(n) / elapsed.Seconds()
	appLog.Info("benchmark complete",
		"frames", n,
		"seconds", fmt.Sprintf("%.2f", elapsed.Seconds()),
		"fps", fmt.Sprintf("%.1f", fps))
	return fps
}
