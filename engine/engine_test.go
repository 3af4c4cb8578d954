package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	iface "FaceVerify/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityEmbedder returns its input as the embedding.
type identityEmbedder struct {
	delay  time.Duration
	closed bool
}

func (e *identityEmbedder) Embed(data []float32) ([]float32, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return append([]float32(nil), data...), nil
}

func (e *identityEmbedder) Close() error {
	e.closed = true
	return nil
}

const testManifest = `
name: test_siamese
input: {width: 2, height: 2, channels: 1}
embedding: {path: embedding.onnx, dim: 4}
head:
  - type: L1Distance
  - type: Dense
    units: 1
    activation: sigmoid
    kernel: [-10, -10, -10, -10]
    bias: [5]
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siamese_model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func fill(v float32) iface.Tensor {
	t := iface.NewTensor(2, 2, 1)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

func TestSiamese_All(t *testing.T) {
	path := writeManifest(t, testManifest)
	embedder := &identityEmbedder{}
	opts := Options{
		Warmup:      true,
		NewEmbedder: func(*Manifest, Options) (Embedder, error) { return embedder, nil },
	}

	s := &Siamese{}

	t.Run("Test New", func(t *testing.T) {
		assert.True(t, s.New())
		assert.Equal(t, REGISTERED, s.State)
	})

	t.Run("Test Predict before load", func(t *testing.T) {
		_, err := s.Predict(context.Background(), fill(0), fill(0))
		assert.ErrorIs(t, err, ErrModelInvocation)
	})

	t.Run("Test LoadModel", func(t *testing.T) {
		require.NoError(t, s.LoadModel(path, opts))
		assert.Equal(t, IDLE, s.State)
	})

	t.Run("Test CheckConfig", func(t *testing.T) {
		cfg := s.CheckConfig()
		assert.Equal(t, path, cfg.ManifestPath)
		assert.Equal(t, filepath.Join(filepath.Dir(path), "embedding.onnx"), cfg.EmbeddingPath)
		assert.Equal(t, 2, cfg.InputWidth)
		assert.Equal(t, 2, cfg.InputHeight)
		assert.Equal(t, 1, cfg.Channels)
		assert.Equal(t, []string{"L1Distance", "Dense"}, cfg.Layers)
	})

	t.Run("Test Predict identical", func(t *testing.T) {
		score, err := s.Predict(context.Background(), fill(0.5), fill(0.5))
		require.NoError(t, err)
		assert.InDelta(t, sigmoid(5), float64(score), 1e-6)
		assert.Equal(t, IDLE, s.State)
	})

	t.Run("Test Predict different", func(t *testing.T) {
		score, err := s.Predict(context.Background(), fill(1), fill(0))
		require.NoError(t, err)
		assert.InDelta(t, sigmoid(-35), float64(score), 1e-6)
	})

	t.Run("Test Predict shape mismatch", func(t *testing.T) {
		_, err := s.Predict(context.Background(), iface.NewTensor(3, 3, 1), fill(0))
		assert.ErrorIs(t, err, ErrModelInvocation)
		assert.Equal(t, IDLE, s.State)
	})

	t.Run("Test Close", func(t *testing.T) {
		require.NoError(t, s.Close())
		assert.True(t, embedder.closed)
		assert.Equal(t, "", s.ManifestPath)
		assert.Equal(t, UNREGISTERED, s.State)

		_, err := s.Predict(context.Background(), fill(0), fill(0))
		assert.ErrorIs(t, err, ErrModelInvocation)
	})
}

func TestSiamese_Timeout(t *testing.T) {
	path := writeManifest(t, testManifest)
	slow := &identityEmbedder{delay: 200 * time.Millisecond}
	s, err := Load(path, Options{
		Timeout:     20 * time.Millisecond,
		NewEmbedder: func(*Manifest, Options) (Embedder, error) { return slow, nil },
	})
	require.NoError(t, err)

	_, err = s.Predict(context.Background(), fill(0), fill(0))
	assert.ErrorIs(t, err, ErrModelInvocation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, s.Busy())

	_, err = s.Predict(context.Background(), fill(0), fill(0))
	assert.ErrorContains(t, err, "model is busy")

	s.Wait()
	assert.False(t, s.Busy())
	assert.Equal(t, IDLE, s.State)

	require.NoError(t, s.Close())
	assert.Equal(t, UNREGISTERED, s.State)
}

func TestLoadErrors(t *testing.T) {
	okEmbedder := func(*Manifest, Options) (Embedder, error) { return &identityEmbedder{}, nil }

	t.Run("missing manifest", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "none.yaml"), Options{NewEmbedder: okEmbedder})
		assert.ErrorIs(t, err, ErrModelLoad)
	})

	t.Run("unknown layer", func(t *testing.T) {
		path := writeManifest(t, `
input: {width: 2, height: 2, channels: 1}
embedding: {path: e.onnx, dim: 4}
head:
  - type: CosineDistance
`)
		_, err := Load(path, Options{NewEmbedder: okEmbedder})
		assert.ErrorIs(t, err, ErrModelLoad)
		assert.ErrorIs(t, err, ErrUnknownLayer)
	})

	t.Run("head not ending in one output", func(t *testing.T) {
		path := writeManifest(t, `
input: {width: 2, height: 2, channels: 1}
embedding: {path: e.onnx, dim: 4}
head:
  - type: L1Distance
`)
		_, err := Load(path, Options{NewEmbedder: okEmbedder})
		assert.ErrorIs(t, err, ErrModelLoad)
	})

	t.Run("first layer takes one input", func(t *testing.T) {
		path := writeManifest(t, `
input: {width: 2, height: 2, channels: 1}
embedding: {path: e.onnx, dim: 4}
head:
  - type: Dense
    units: 1
    kernel: [1, 1, 1, 1]
`)
		_, err := Load(path, Options{NewEmbedder: okEmbedder})
		assert.ErrorIs(t, err, ErrModelLoad)
		assert.ErrorContains(t, err, "takes 1 inputs, expected 2")
	})

	t.Run("later layer takes two inputs", func(t *testing.T) {
		path := writeManifest(t, `
input: {width: 2, height: 2, channels: 1}
embedding: {path: e.onnx, dim: 4}
head:
  - type: L1Distance
  - type: L1Distance
  - type: Dense
    units: 1
    kernel: [1, 1, 1, 1]
`)
		_, err := Load(path, Options{NewEmbedder: okEmbedder})
		assert.ErrorIs(t, err, ErrModelLoad)
		assert.ErrorContains(t, err, "head[1] L1Distance")
	})

	t.Run("invalid input shape", func(t *testing.T) {
		path := writeManifest(t, `
input: {width: 0, height: 2, channels: 1}
embedding: {path: e.onnx, dim: 4}
head:
  - type: L1Distance
`)
		_, err := Load(path, Options{NewEmbedder: okEmbedder})
		assert.ErrorIs(t, err, ErrModelLoad)
	})

	t.Run("backend failure", func(t *testing.T) {
		path := writeManifest(t, testManifest)
		_, err := Load(path, Options{NewEmbedder: func(*Manifest, Options) (Embedder, error) {
			return nil, errors.New("no runtime")
		}})
		assert.ErrorIs(t, err, ErrModelLoad)
	})
}

func TestDenseWeightsFile(t *testing.T) {
	dir := t.TempDir()
	weights := []float32{1, 2, 3, 4, 0.5}
	f, err := os.Create(filepath.Join(dir, "dense.bin"))
	require.NoError(t, err)
	require.NoError(t, binary.Write(f, binary.LittleEndian, weights))
	require.NoError(t, f.Close())

	path := filepath.Join(dir, "siamese_model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input: {width: 2, height: 2, channels: 1}
embedding: {path: embedding.onnx, dim: 4}
head:
  - type: L1Distance
  - type: Dense
    units: 1
    weights: dense.bin
`), 0o644))

	s, err := Load(path, Options{NewEmbedder: func(*Manifest, Options) (Embedder, error) { return &identityEmbedder{}, nil }})
	require.NoError(t, err)
	defer s.Close()

	a := iface.Tensor{Height: 2, Width: 2, Channels: 1, Data: []float32{1, 1, 1, 1}}
	b := iface.Tensor{Height: 2, Width: 2, Channels: 1, Data: []float32{0, 0, 0, 0}}
	score, err := s.Predict(context.Background(), a, b)
	require.NoError(t, err)
	assert.InDelta(t, 10.5, float64(score), 1e-6)
}

func TestFindRuntimeLib(t *testing.T) {
	t.Run("configured path", func(t *testing.T) {
		lib := filepath.Join(t.TempDir(), "libonnxruntime.so.1.20.0")
		require.NoError(t, os.WriteFile(lib, []byte{0}, 0o644))
		got, err := FindRuntimeLib(lib)
		require.NoError(t, err)
		assert.Equal(t, lib, got)
	})

	t.Run("configured path missing", func(t *testing.T) {
		_, err := FindRuntimeLib(filepath.Join(t.TempDir(), "missing.so"))
		assert.Error(t, err)
	})

	t.Run("unsupported platform", func(t *testing.T) {
		_, _, err := runtimeLibName("plan9")
		assert.Error(t, err)
	})
}
