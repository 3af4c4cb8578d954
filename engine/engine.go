package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	iface "FaceVerify/interface"
	"FaceVerify/logger"

	"go.uber.org/zap"
)

// Siamese scores a pair of images by embedding both with the same network
// and running the head over the two embeddings.
type Siamese struct {
	mu       sync.Mutex
	inflight sync.WaitGroup

	ManifestPath string
	UseGPU       bool
	Timeout      time.Duration
	State        int

	manifest *Manifest
	embedder Embedder
	head     []Layer
}

var _ iface.Model = (*Siamese)(nil)

func (s *Siamese) New() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = REGISTERED
	return true
}

// Load is New followed by LoadModel.
func Load(manifestPath string, opts Options) (*Siamese, error) {
	s := &Siamese{}
	s.New()
	if err := s.LoadModel(manifestPath, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadModel reads the manifest, resolves every head layer by name and opens
// the embedding backend. Every failure wraps ErrModelLoad.
func (s *Siamese) LoadModel(manifestPath string, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != REGISTERED {
		return fmt.Errorf("%w: model must be registered before loading (state 0x%04x)", ErrModelLoad, s.State)
	}

	m, err := ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	head, err := buildHead(m)
	if err != nil {
		return err
	}
	factory := opts.NewEmbedder
	if factory == nil {
		factory = newOnnxEmbedder
	}
	embedder, err := factory(m, opts)
	if err != nil {
		return fmt.Errorf("%w: embedding backend: %w", ErrModelLoad, err)
	}

	s.ManifestPath = manifestPath
	s.UseGPU = opts.UseGPU
	s.Timeout = opts.Timeout
	s.manifest = m
	s.head = head
	s.embedder = embedder
	s.State = IDLE

	layerNames := make([]string, len(m.Head))
	for i, l := range m.Head {
		layerNames[i] = l.Type
	}
	logger.Log().Info("siamese model loaded",
		zap.String("name", m.Name),
		zap.String("manifest", manifestPath),
		zap.String("embedding", m.Embedding.Path),
		zap.Int("embeddingDim", m.Embedding.Dim),
		zap.Strings("head", layerNames),
		zap.Bool("useGPU", opts.UseGPU))

	if opts.Warmup {
		s.warmup()
	}
	return nil
}

// warmup runs one throwaway forward pass; callers hold s.mu.
func (s *Siamese) warmup() {
	zero := make([]float32, s.manifest.Input.Size())
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Warn("panic during warmup", zap.Any("recovered", r))
			}
		}()
		if _, err := s.forward(zero, zero); err != nil {
			logger.Log().Warn("warmup failed", zap.Error(err))
		}
	}()
}

func (s *Siamese) CheckConfig() iface.EngineConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := iface.EngineConfig{
		ManifestPath: s.ManifestPath,
		UseGPU:       s.UseGPU,
	}
	if s.manifest != nil {
		cfg.EmbeddingPath = s.manifest.Embedding.Path
		cfg.InputWidth = s.manifest.Input.Width
		cfg.InputHeight = s.manifest.Input.Height
		cfg.Channels = s.manifest.Input.Channels
		for _, l := range s.manifest.Head {
			cfg.Layers = append(cfg.Layers, l.Type)
		}
	}
	return cfg
}

type predictResult struct {
	score iface.Score
	err   error
}

// Predict returns the similarity of a and b. If the call exceeds the model
// timeout or ctx ends first, Predict returns and the model stays BUSY until
// the pending forward pass completes.
func (s *Siamese) Predict(ctx context.Context, a, b iface.Tensor) (iface.Score, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	if err := s.checkShape(a); err != nil {
		s.release()
		return 0, err
	}
	if err := s.checkShape(b); err != nil {
		s.release()
		return 0, err
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	// the model is IDLE again before the result is delivered
	done := make(chan predictResult, 1)
	go func() {
		var r predictResult
		defer func() {
			if p := recover(); p != nil {
				r = predictResult{err: fmt.Errorf("%w: panic: %v", ErrModelInvocation, p)}
			}
			s.release()
			done <- r
		}()
		r.score, r.err = s.forward(a.Data, b.Data)
	}()

	select {
	case r := <-done:
		return r.score, r.err
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", ErrModelInvocation, ctx.Err())
	}
}

func (s *Siamese) forward(a, b []float32) (iface.Score, error) {
	ea, err := s.embedder.Embed(a)
	if err != nil {
		return 0, fmt.Errorf("%w: embed input: %w", ErrModelInvocation, err)
	}
	eb, err := s.embedder.Embed(b)
	if err != nil {
		return 0, fmt.Errorf("%w: embed reference: %w", ErrModelInvocation, err)
	}
	out, err := s.head[0].Forward(ea, eb)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}
	for _, layer := range s.head[1:] {
		if out, err = layer.Forward(out); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrModelInvocation, err)
		}
	}
	return iface.Score(out[0]), nil
}

func (s *Siamese) checkShape(t iface.Tensor) error {
	in := s.manifest.Input
	if t.Height != in.Height || t.Width != in.Width || t.Channels != in.Channels || len(t.Data) != in.Size() {
		return fmt.Errorf("%w: tensor shape %v does not match model input %dx%dx%d",
			ErrModelInvocation, t.Shape(), in.Height, in.Width, in.Channels)
	}
	return nil
}

func (s *Siamese) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case UNREGISTERED:
		return fmt.Errorf("%w: model not registered", ErrModelInvocation)
	case REGISTERED:
		return fmt.Errorf("%w: model not loaded", ErrModelInvocation)
	case BUSY:
		return fmt.Errorf("%w: model is busy", ErrModelInvocation)
	}
	s.State = BUSY
	s.inflight.Add(1)
	return nil
}

func (s *Siamese) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == BUSY {
		s.State = IDLE
	}
	s.inflight.Done()
}

// Busy reports whether a forward pass is still running, including one whose
// Predict call already returned on timeout.
func (s *Siamese) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State == BUSY
}

// Wait blocks until no forward pass is running.
func (s *Siamese) Wait() {
	s.inflight.Wait()
}

// Close waits for any pending forward pass and releases the backend.
func (s *Siamese) Close() error {
	s.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.embedder != nil {
		err = s.embedder.Close()
	}
	s.ManifestPath = ""
	s.UseGPU = false
	s.Timeout = 0
	s.manifest = nil
	s.embedder = nil
	s.head = nil
	s.State = UNREGISTERED
	return err
}
