package engine

import (
	"errors"
	"time"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

var (
	ErrModelLoad       = errors.New("model load error")
	ErrUnknownLayer    = errors.New("unknown layer type")
	ErrModelInvocation = errors.New("model invocation error")
)

// Embedder maps one preprocessed image to its embedding vector.
type Embedder interface {
	Embed(data []float32) ([]float32, error)
	Close() error
}

// EmbedderFactory builds the embedding backend described by a manifest.
type EmbedderFactory func(m *Manifest, opts Options) (Embedder, error)

type Options struct {
	OnnxRuntimeLib string
	IntraOpThreads int
	UseGPU         bool
	// Timeout bounds a single Predict call; zero means no bound.
	Timeout time.Duration
	Warmup  bool
	// NewEmbedder overrides the ONNX Runtime backend.
	NewEmbedder EmbedderFactory
}
