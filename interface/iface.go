package iface

import "context"

// Tensor is a single image in HWC order with values in [0,1].
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

func NewTensor(height, width, channels int) Tensor {
	return Tensor{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float32, height*width*channels),
	}
}

func (t Tensor) Shape() [3]int {
	return [3]int{t.Height, t.Width, t.Channels}
}

func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

func (t Tensor) Set(y, x, c int, v float32) {
	t.Data[(y*t.Width+x)*t.Channels+c] = v
}

// Score is the similarity of one (input, reference) pair, in [0,1].
type Score float32

type EngineConfig struct {
	ManifestPath  string
	EmbeddingPath string
	InputWidth    int
	InputHeight   int
	Channels      int
	Layers        []string
	UseGPU        bool
}

// Model is a binary similarity function over two equally shaped tensors.
type Model interface {
	Predict(ctx context.Context, a, b Tensor) (Score, error)
	CheckConfig() EngineConfig
	Close() error
}

// FrameSource captures one frame, crops it and persists it as a JPEG at path.
type FrameSource interface {
	CaptureTo(ctx context.Context, path string) error
}
