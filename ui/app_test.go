package ui

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"FaceVerify/verify"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
)

type stillSource struct{}

func (stillSource) Snapshot() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 10, 10)), nil
}

type mockVerifier struct {
	res   *verify.Result
	err   error
	block bool
	busy  atomic.Bool
	// linger keeps State at Verifying after Verify returns until closed
	linger chan struct{}
}

func (m *mockVerifier) Verify(ctx context.Context) (*verify.Result, error) {
	m.busy.Store(true)
	defer m.busy.Store(false)
	if m.block {
		<-ctx.Done()
		return &verify.Result{}, ctx.Err()
	}
	return m.res, m.err
}

func (m *mockVerifier) State() verify.State {
	if m.busy.Load() {
		return verify.Verifying
	}
	if m.linger != nil {
		select {
		case <-m.linger:
		default:
			return verify.Verifying
		}
	}
	return verify.Idle
}

// onMain reads widget state on the fyne thread.
func onMain[T any](fn func() T) T {
	var v T
	fyne.DoAndWait(func() { v = fn() })
	return v
}

func TestVerifyButton(t *testing.T) {
	tests := []struct {
		name string
		res  *verify.Result
		err  error
		want string
	}{
		{"verified", &verify.Result{Verified: true}, nil, verify.LabelVerified},
		{"unverified", &verify.Result{}, nil, verify.LabelUnverified},
		{"error", &verify.Result{}, errors.New("camera gone"), verify.LabelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewWithApp(test.NewTempApp(t), stillSource{}, &mockVerifier{res: tt.res, err: tt.err}, Options{})
			assert.Equal(t, verify.LabelUninitiated, onMain(a.Label))

			test.Tap(a.verify)
			a.wg.Wait()
			assert.Eventually(t, func() bool { return onMain(a.Label) == tt.want }, time.Second, 5*time.Millisecond)
			assert.Eventually(t, func() bool {
				return onMain(func() bool { return !a.verify.Disabled() && a.cancel.Disabled() })
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestCancelButton(t *testing.T) {
	v := &mockVerifier{block: true}
	a := NewWithApp(test.NewTempApp(t), stillSource{}, v, Options{})

	test.Tap(a.verify)
	assert.Eventually(t, func() bool { return v.State() == verify.Verifying }, time.Second, 5*time.Millisecond)
	assert.True(t, onMain(a.verify.Disabled))
	assert.False(t, onMain(a.cancel.Disabled))

	// a second tap while running is ignored
	test.Tap(a.verify)

	test.Tap(a.cancel)
	a.wg.Wait()
	assert.Eventually(t, func() bool { return onMain(a.Label) == LabelCancelled }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !onMain(a.verify.Disabled) }, time.Second, 5*time.Millisecond)
}

func TestVerifyButtonWaitsForIdle(t *testing.T) {
	v := &mockVerifier{res: &verify.Result{}, err: context.DeadlineExceeded, linger: make(chan struct{})}
	a := NewWithApp(test.NewTempApp(t), stillSource{}, v, Options{})

	test.Tap(a.verify)
	assert.Eventually(t, func() bool { return onMain(a.Label) == verify.LabelError }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return !onMain(a.verify.Disabled) }, 150*time.Millisecond, 10*time.Millisecond)

	close(v.linger)
	a.wg.Wait()
	assert.Eventually(t, func() bool { return !onMain(a.verify.Disabled) }, time.Second, 5*time.Millisecond)
}

func TestRender(t *testing.T) {
	a := NewWithApp(test.NewTempApp(t), stillSource{}, &mockVerifier{}, Options{})
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	a.render(img)
	assert.Eventually(t, func() bool {
		return onMain(func() bool { return a.video.Image == img })
	}, time.Second, 5*time.Millisecond)
}
