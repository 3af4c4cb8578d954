package display

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"FaceVerify/logger"

	"go.uber.org/zap"
)

// DefaultInterval is roughly 33 frames per second.
const DefaultInterval = time.Second / 33

type Snapshotter interface {
	Snapshot() (image.Image, error)
}

type Stats struct {
	Rendered uint64 `json:"rendered"`
	Skipped  uint64 `json:"skipped"`
}

// Loop pulls one frame per tick from Source and hands it to Render. A failed
// snapshot skips that tick; the loop only stops when its context ends.
type Loop struct {
	Source   Snapshotter
	Render   func(image.Image)
	Interval time.Duration
	// OnFrame, when set, is told whether each tick rendered.
	OnFrame func(rendered bool)

	rendered atomic.Uint64
	skipped  atomic.Uint64
}

func (l *Loop) Run(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log().Debug("display loop stopped",
				zap.Uint64("rendered", l.rendered.Load()),
				zap.Uint64("skipped", l.skipped.Load()))
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	img, err := l.Source.Snapshot()
	if err != nil {
		l.skipped.Add(1)
		logger.Log().Debug("frame skipped", zap.Error(err))
		if l.OnFrame != nil {
			l.OnFrame(false)
		}
		return
	}
	if l.Render != nil {
		l.Render(img)
	}
	l.rendered.Add(1)
	if l.OnFrame != nil {
		l.OnFrame(true)
	}
}

func (l *Loop) Stats() Stats {
	return Stats{Rendered: l.rendered.Load(), Skipped: l.skipped.Load()}
}
