package display

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type flakySource struct {
	mu    sync.Mutex
	calls int
	// every n-th call fails
	failEvery int
}

func (s *flakySource) Snapshot() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failEvery > 0 && s.calls%s.failEvery == 0 {
		return nil, errors.New("no frame")
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (s *flakySource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestLoop_OneRenderPerTick(t *testing.T) {
	src := &flakySource{}
	var mu sync.Mutex
	renders := 0
	l := &Loop{
		Source:   src,
		Interval: 5 * time.Millisecond,
		Render: func(image.Image) {
			mu.Lock()
			renders++
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, renders, 0)
	assert.Equal(t, src.count(), renders)
	assert.Equal(t, uint64(renders), l.Stats().Rendered)
	assert.Zero(t, l.Stats().Skipped)
}

func TestLoop_SkipsFailedFrames(t *testing.T) {
	src := &flakySource{failEvery: 2}
	var results []bool
	var mu sync.Mutex
	l := &Loop{
		Source:   src,
		Interval: 5 * time.Millisecond,
		Render:   func(image.Image) {},
		OnFrame: func(ok bool) {
			mu.Lock()
			results = append(results, ok)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return src.count() >= 6 }, time.Second, time.Millisecond)
	cancel()
	<-done

	stats := l.Stats()
	assert.Greater(t, stats.Skipped, uint64(0))
	assert.Greater(t, stats.Rendered, uint64(0))
	assert.Equal(t, uint64(src.count()), stats.Rendered+stats.Skipped)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, results, src.count())
	assert.True(t, results[0])
	assert.False(t, results[1])
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &Loop{Source: &flakySource{}}
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
