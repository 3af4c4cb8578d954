package engine

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Layer is one step of the siamese head. The first layer receives both
// embeddings; every later layer receives the previous output.
type Layer interface {
	Forward(inputs ...[]float32) ([]float32, error)
	Inputs() int
	OutputDim() int
}

// LayerFactory builds a layer from its spec and the width of its input.
type LayerFactory func(spec LayerSpec, inputDim int) (Layer, error)

var (
	layerMu  sync.RWMutex
	registry = map[string]LayerFactory{}
)

func init() {
	RegisterLayer("L1Distance", newL1Distance)
	RegisterLayer("Dense", newDense)
}

// RegisterLayer makes a layer type resolvable by name when a manifest is
// loaded. Registering an existing name replaces it.
func RegisterLayer(name string, factory LayerFactory) {
	layerMu.Lock()
	defer layerMu.Unlock()
	registry[name] = factory
}

func LookupLayer(name string) (LayerFactory, bool) {
	layerMu.RLock()
	defer layerMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

func RegisteredLayers() []string {
	layerMu.RLock()
	defer layerMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildHead resolves every layer of the manifest head through the registry.
func buildHead(m *Manifest) ([]Layer, error) {
	layers := make([]Layer, 0, len(m.Head))
	dim := m.Embedding.Dim
	for i, spec := range m.Head {
		factory, ok := LookupLayer(spec.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %w %q at head[%d]", ErrModelLoad, ErrUnknownLayer, spec.Type, i)
		}
		layer, err := factory(spec, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: head[%d] %s: %w", ErrModelLoad, i, spec.Type, err)
		}
		want := 1
		if i == 0 {
			want = 2
		}
		if n := layer.Inputs(); n != want {
			return nil, fmt.Errorf("%w: head[%d] %s takes %d inputs, expected %d", ErrModelLoad, i, spec.Type, n, want)
		}
		layers = append(layers, layer)
		dim = layer.OutputDim()
	}
	if dim != 1 {
		return nil, fmt.Errorf("%w: head must end with a single output, got %d", ErrModelLoad, dim)
	}
	return layers, nil
}

// L1Distance is the element-wise |a-b| between two embeddings.
type L1Distance struct {
	dim int
}

func newL1Distance(_ LayerSpec, inputDim int) (Layer, error) {
	return &L1Distance{dim: inputDim}, nil
}

func (l *L1Distance) Inputs() int    { return 2 }
func (l *L1Distance) OutputDim() int { return l.dim }

func (l *L1Distance) Forward(inputs ...[]float32) ([]float32, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("L1Distance expects 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0], inputs[1]
	if len(a) != len(b) {
		return nil, fmt.Errorf("L1Distance input mismatch: %d vs %d", len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = float32(math.Abs(float64(a[i] - b[i])))
	}
	return out, nil
}

// Dense is a fully connected layer. Kernel is stored [in][units] row-major.
type Dense struct {
	in, units  int
	kernel     []float32
	bias       []float32
	activation func(float32) float32
}

func newDense(spec LayerSpec, inputDim int) (Layer, error) {
	if spec.Units <= 0 {
		return nil, fmt.Errorf("units must be positive, got %d", spec.Units)
	}
	act, err := activation(spec.Activation)
	if err != nil {
		return nil, err
	}
	d := &Dense{in: inputDim, units: spec.Units, activation: act}

	switch {
	case spec.Weights != "":
		w, err := readFloat32s(spec.Weights, inputDim*spec.Units+spec.Units)
		if err != nil {
			return nil, err
		}
		d.kernel = w[:inputDim*spec.Units]
		d.bias = w[inputDim*spec.Units:]
	default:
		d.kernel = spec.Kernel
		d.bias = spec.Bias
		if d.bias == nil {
			d.bias = make([]float32, spec.Units)
		}
	}
	if len(d.kernel) != inputDim*spec.Units {
		return nil, fmt.Errorf("kernel has %d values, expected %d", len(d.kernel), inputDim*spec.Units)
	}
	if len(d.bias) != spec.Units {
		return nil, fmt.Errorf("bias has %d values, expected %d", len(d.bias), spec.Units)
	}
	return d, nil
}

func (d *Dense) Inputs() int    { return 1 }
func (d *Dense) OutputDim() int { return d.units }

func (d *Dense) Forward(inputs ...[]float32) ([]float32, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Dense expects 1 input, got %d", len(inputs))
	}
	x := inputs[0]
	if len(x) != d.in {
		return nil, fmt.Errorf("Dense expects %d values, got %d", d.in, len(x))
	}
	out := make([]float32, d.units)
	for j := 0; j < d.units; j++ {
		sum := d.bias[j]
		for i, v := range x {
			sum += v * d.kernel[i*d.units+j]
		}
		out[j] = d.activation(sum)
	}
	return out, nil
}

func activation(name string) (func(float32) float32, error) {
	switch name {
	case "", "linear":
		return func(v float32) float32 { return v }, nil
	case "relu":
		return func(v float32) float32 {
			if v < 0 {
				return 0
			}
			return v
		}, nil
	case "sigmoid":
		return func(v float32) float32 {
			return float32(1 / (1 + math.Exp(-float64(v))))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}
