package forge

import (
	"log/slog"
	"time"
)

// FrameTimes tracks a rolling view of frame durations for the run loop.
type FrameTimes struct {
	FrameCount      uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration

	// duration of the previous frame
	Delta time.Duration

	lastTime time.Time
}

func (t *FrameTimes) update(d time.Duration) {
	const window = 64

	t.Delta = d
	t.MaxDuration = max(t.MaxDuration, d)

	if t.FrameCount < window/2 {
		t.AverageDuration = d
	} else {
		t.AverageDuration = ((window-1)*t.AverageDuration + d) / window
	}
}

func (t *FrameTimes) FPS() float64 {
	if t.AverageDuration == 0 {
		return 0
	}

	return 1.0 / t.AverageDuration.Seconds()
}

// Report logs the rolling frame statistics together with the active
// frame's descriptor pool usage.
func (t *FrameTimes) Report(frame uint64, readyPools, fullPools int) {
	slog.Debug("Frame stats",
		slog.Uint64("frame", frame),
		slog.Float64("fps", t.FPS()),
		slog.Duration("avg", t.AverageDuration),
		slog.Duration("max", t.MaxDuration),
		slog.Int("readyPools", readyPools),
		slog.Int("fullPools", fullPools),
	)
}

// Tick records the start of a new frame. It returns true every 60 frames
// as a hint to emit stats.
func (t *FrameTimes) Tick() bool {
	now := time.Now()

	if t.FrameCount > 0 {
		t.update(now.Sub(t.lastTime))
	}

	t.lastTime = now
	t.FrameCount += 1

	return t.FrameCount%60 == 0
}
