package ui

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"FaceVerify/display"
	"FaceVerify/logger"
	"FaceVerify/verify"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"
)

const (
	DefaultTitle   = "Face Verification"
	LabelVerifying = "Verifying..."
	LabelCancelled = "Verification Cancelled"

	idlePoll = 50 * time.Millisecond
)

type Verifier interface {
	Verify(ctx context.Context) (*verify.Result, error)
	State() verify.State
}

type Options struct {
	Title    string
	Interval time.Duration
	// OnFrame is forwarded to the display loop.
	OnFrame func(rendered bool)
}

// App is the desktop window: live video on top, the verdict label and the
// Verify and Cancel buttons below.
type App struct {
	fyneApp  fyne.App
	window   fyne.Window
	video    *canvas.Image
	label    *widget.Label
	verify   *widget.Button
	cancel   *widget.Button
	loop     *display.Loop
	verifier Verifier

	mu           sync.Mutex
	cancelVerify context.CancelFunc
	wg           sync.WaitGroup
}

func New(src display.Snapshotter, v Verifier, opts Options) *App {
	return NewWithApp(app.New(), src, v, opts)
}

// NewWithApp builds the window on an existing fyne app.
func NewWithApp(fyneApp fyne.App, src display.Snapshotter, v Verifier, opts Options) *App {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	a := &App{
		fyneApp:  fyneApp,
		window:   fyneApp.NewWindow(title),
		verifier: v,
	}

	a.video = canvas.NewImageFromImage(nil)
	a.video.FillMode = canvas.ImageFillContain
	a.video.SetMinSize(fyne.NewSize(250, 250))

	a.label = widget.NewLabel(verify.LabelUninitiated)
	a.label.Alignment = fyne.TextAlignCenter

	a.verify = widget.NewButton("Verify", a.startVerify)
	a.verify.Importance = widget.HighImportance
	a.cancel = widget.NewButton("Cancel", a.cancelCurrent)
	a.cancel.Disable()

	a.window.SetContent(container.NewBorder(nil,
		container.NewVBox(a.label, container.NewGridWithColumns(2, a.verify, a.cancel)),
		nil, nil, a.video))
	a.window.Resize(fyne.NewSize(400, 480))

	a.loop = &display.Loop{
		Source:   src,
		Interval: opts.Interval,
		Render:   a.render,
		OnFrame:  opts.OnFrame,
	}
	return a
}

func (a *App) render(img image.Image) {
	fyne.Do(func() {
		a.video.Image = img
		a.video.Refresh()
	})
}

func (a *App) startVerify() {
	a.mu.Lock()
	if a.cancelVerify != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelVerify = cancel
	a.mu.Unlock()

	a.verify.Disable()
	a.cancel.Enable()
	a.label.SetText(LabelVerifying)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res, err := a.verifier.Verify(ctx)
		cancel()
		text := verify.Label(res, err)
		if errors.Is(err, context.Canceled) {
			text = LabelCancelled
		}
		if err != nil {
			logger.Log().Warn("verification from GUI failed", zap.Error(err))
		}
		fyne.Do(func() {
			a.label.SetText(text)
			a.cancel.Disable()
		})

		a.waitIdle()
		a.mu.Lock()
		a.cancelVerify = nil
		a.mu.Unlock()
		fyne.Do(a.verify.Enable)
	}()
}

// waitIdle blocks while the verifier still reports work, which outlives
// Verify when a model invocation timed out.
func (a *App) waitIdle() {
	for a.verifier.State() != verify.Idle {
		time.Sleep(idlePoll)
	}
}

func (a *App) cancelCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelVerify != nil {
		a.cancelVerify()
	}
}

// Run starts the display loop and blocks in the fyne event loop until the
// window closes or ctx is done.
func (a *App) Run(ctx context.Context) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.loop.Run(ctx)
	}()
	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			fyne.Do(a.window.Close)
		case <-closed:
		}
	}()

	a.window.ShowAndRun()
	close(closed)
	stop()
	a.cancelCurrent()
	<-loopDone
	a.wg.Wait()
	stats := a.loop.Stats()
	logger.Log().Info("window closed", zap.Uint64("framesRendered", stats.Rendered), zap.Uint64("framesSkipped", stats.Skipped))
}

func (a *App) Label() string {
	return a.label.Text
}

func (a *App) Stats() display.Stats {
	return a.loop.Stats()
}
