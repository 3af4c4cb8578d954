package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scaleLayer struct {
	dim    int
	factor float32
}

func (l *scaleLayer) Inputs() int    { return 1 }
func (l *scaleLayer) OutputDim() int { return l.dim }

func (l *scaleLayer) Forward(inputs ...[]float32) ([]float32, error) {
	out := make([]float32, len(inputs[0]))
	for i, v := range inputs[0] {
		out[i] = v * l.factor
	}
	return out, nil
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, RegisteredLayers(), "L1Distance")
	assert.Contains(t, RegisteredLayers(), "Dense")

	_, ok := LookupLayer("Scale")
	assert.False(t, ok)

	RegisterLayer("Scale", func(spec LayerSpec, inputDim int) (Layer, error) {
		return &scaleLayer{dim: inputDim, factor: 2}, nil
	})
	factory, ok := LookupLayer("Scale")
	require.True(t, ok)

	layer, err := factory(LayerSpec{}, 3)
	require.NoError(t, err)
	out, err := layer.Forward([]float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4, 6}, out)
}

func TestL1Distance(t *testing.T) {
	layer, err := newL1Distance(LayerSpec{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, layer.OutputDim())

	out, err := layer.Forward([]float32{1, -2, 0.5}, []float32{3, 2, 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4, 0}, out)

	_, err = layer.Forward([]float32{1})
	assert.Error(t, err)
	_, err = layer.Forward([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestDense(t *testing.T) {
	tests := []struct {
		name       string
		activation string
		in         []float32
		want       []float32
	}{
		{"linear", "linear", []float32{1, 2}, []float32{1*1 + 2*3 + 0.5, 1*2 + 2*4 - 1}},
		{"relu clamps negatives", "relu", []float32{-1, -1}, []float32{0, 0}},
		{"default is linear", "", []float32{0, 0}, []float32{0.5, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layer, err := newDense(LayerSpec{
				Units:      2,
				Activation: tt.activation,
				Kernel:     []float32{1, 2, 3, 4},
				Bias:       []float32{0.5, -1},
			}, 2)
			require.NoError(t, err)
			out, err := layer.Forward(tt.in)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, out, 1e-6)
		})
	}

	t.Run("sigmoid of zero", func(t *testing.T) {
		layer, err := newDense(LayerSpec{Units: 1, Activation: "sigmoid", Kernel: []float32{1}}, 1)
		require.NoError(t, err)
		out, err := layer.Forward([]float32{0})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, out[0], 1e-6)
	})

	t.Run("bad kernel size", func(t *testing.T) {
		_, err := newDense(LayerSpec{Units: 1, Kernel: []float32{1, 2}}, 3)
		assert.Error(t, err)
	})

	t.Run("bad activation", func(t *testing.T) {
		_, err := newDense(LayerSpec{Units: 1, Activation: "softsign", Kernel: []float32{1}}, 1)
		assert.Error(t, err)
	})

	t.Run("zero units", func(t *testing.T) {
		_, err := newDense(LayerSpec{}, 1)
		assert.Error(t, err)
	})
}
