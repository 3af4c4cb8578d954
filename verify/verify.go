package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"FaceVerify/config"
	iface "FaceVerify/interface"
	"FaceVerify/logger"
	"FaceVerify/preprocess"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEmptyReferenceSet = errors.New("empty reference set")
	ErrBusy              = errors.New("verification already in progress")
)

const (
	LabelUninitiated = "Verification Uninitiated"
	LabelVerified    = "Verified"
	LabelUnverified  = "Unverified"
	LabelError       = "Verification Error"
)

type State int32

const (
	Idle State = iota
	Verifying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Verifying:
		return "verifying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is one verification attempt. Scores and References are parallel
// and follow the reference directory listing order.
type Result struct {
	ID         string        `json:"id"`
	Scores     []iface.Score `json:"scores"`
	References []string      `json:"references"`
	Skipped    []string      `json:"skipped,omitempty"`
	Detections int           `json:"detections"`
	Ratio      float64       `json:"ratio"`
	Verified   bool          `json:"verified"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
}

// Observer is notified after every attempt that was allowed to start.
type Observer func(res *Result, err error)

type PreprocessFunc func(path string) (iface.Tensor, error)

// pendingModel is a model that can still be running an invocation after
// Predict returned, e.g. on timeout.
type pendingModel interface {
	Busy() bool
	Wait()
}

type Verifier struct {
	src        iface.FrameSource
	model      iface.Model
	cfg        config.Verification
	preprocess PreprocessFunc

	busy atomic.Bool

	mu        sync.RWMutex
	observers []Observer
	last      *Result
	lastErr   error
}

type Option func(*Verifier)

func WithPreprocessor(fn PreprocessFunc) Option {
	return func(v *Verifier) { v.preprocess = fn }
}

func WithObserver(o Observer) Option {
	return func(v *Verifier) { v.observers = append(v.observers, o) }
}

func New(src iface.FrameSource, model iface.Model, cfg config.Verification, opts ...Option) *Verifier {
	v := &Verifier{
		src:        src,
		model:      model,
		cfg:        cfg,
		preprocess: preprocess.Preprocess,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// AddObserver registers o for every later attempt.
func (v *Verifier) AddObserver(o Observer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = append(v.observers, o)
}

func (v *Verifier) State() State {
	if v.busy.Load() {
		return Verifying
	}
	return Idle
}

func (v *Verifier) Model() iface.Model { return v.model }

// Last returns the most recent attempt, or nil before the first one.
func (v *Verifier) Last() (*Result, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.last, v.lastErr
}

// Verify captures a fresh input image, scores it against every reference
// image and thresholds the scores into a verdict. Only one attempt runs at a
// time; a concurrent call fails with ErrBusy. The returned Result is non-nil
// for every attempt that started, including failed ones.
func (v *Verifier) Verify(ctx context.Context) (*Result, error) {
	if !v.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer v.release()

	if v.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()
	}

	res := &Result{ID: uuid.NewString(), StartedAt: time.Now()}
	err := v.run(ctx, res)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Error = err.Error()
		logger.Log().Error("verification failed", zap.String("id", res.ID), zap.Error(err), zap.Duration("duration", res.Duration))
	} else {
		logger.Log().Info("verification finished",
			zap.String("id", res.ID),
			zap.Any("scores", res.Scores),
			zap.Int("detections", res.Detections),
			zap.Float64("ratio", res.Ratio),
			zap.Bool("verified", res.Verified),
			zap.Strings("skipped", res.Skipped),
			zap.Duration("duration", res.Duration))
	}

	v.mu.Lock()
	v.last, v.lastErr = res, err
	observers := append([]Observer(nil), v.observers...)
	v.mu.Unlock()
	for _, o := range observers {
		o(res, err)
	}
	return res, err
}

// release makes the verifier Idle once the model has nothing left running,
// so State never reports Idle while a retry would still hit a busy model.
func (v *Verifier) release() {
	m, ok := v.model.(pendingModel)
	if !ok || !m.Busy() {
		v.busy.Store(false)
		return
	}
	go func() {
		m.Wait()
		v.busy.Store(false)
	}()
}

func (v *Verifier) run(ctx context.Context, res *Result) error {
	if err := v.src.CaptureTo(ctx, v.cfg.InputImage); err != nil {
		return fmt.Errorf("capture input image: %w", err)
	}

	refs, err := ListReferences(v.cfg.VerificationDir)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		input, err := v.preprocess(v.cfg.InputImage)
		if err != nil {
			return fmt.Errorf("input image: %w", err)
		}
		refPath := filepath.Join(v.cfg.VerificationDir, ref)
		reference, err := v.preprocess(refPath)
		if err != nil {
			if errors.Is(err, preprocess.ErrImageRead) || errors.Is(err, preprocess.ErrImageDecode) {
				logger.Log().Warn("skipping reference image", zap.String("reference", ref), zap.Error(err))
				res.Skipped = append(res.Skipped, ref)
				continue
			}
			return err
		}
		score, err := v.model.Predict(ctx, input, reference)
		if err != nil {
			return fmt.Errorf("reference %s: %w", ref, err)
		}
		res.Scores = append(res.Scores, score)
		res.References = append(res.References, ref)
	}

	res.Detections, res.Ratio, res.Verified, err = Aggregate(res.Scores, len(refs), v.cfg.DetectionThreshold, v.cfg.VerificationThreshold)
	return err
}

// ListReferences returns the regular files of dir in directory listing
// order. A missing or empty directory is an empty reference set.
func ListReferences(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmptyReferenceSet, err)
	}
	refs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		refs = append(refs, e.Name())
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no reference images in %s", ErrEmptyReferenceSet, dir)
	}
	return refs, nil
}

// Aggregate counts scores strictly above detectionThreshold and verifies
// when that count over total is strictly above verificationThreshold. total
// is the size of the reference set, so a skipped reference counts against
// the verdict.
func Aggregate(scores []iface.Score, total int, detectionThreshold, verificationThreshold float64) (int, float64, bool, error) {
	if len(scores) == 0 || total <= 0 {
		return 0, 0, false, ErrEmptyReferenceSet
	}
	detections := 0
	for _, s := range scores {
		if float64(s) > detectionThreshold {
			detections++
		}
	}
	ratio := float64(detections) / float64(total)
	return detections, ratio, ratio > verificationThreshold, nil
}

// Label is the status text for an attempt.
func Label(res *Result, err error) string {
	switch {
	case err != nil:
		return LabelError
	case res == nil:
		return LabelUninitiated
	case res.Verified:
		return LabelVerified
	default:
		return LabelUnverified
	}
}
