package engine

import (
	"fmt"
	"sync"

	"FaceVerify/logger"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	envOnce sync.Once
	envErr  error
)

// initRuntime loads the ONNX Runtime shared library once per process.
func initRuntime(libPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		path, err := FindRuntimeLib(libPath)
		if err != nil {
			envErr = err
			return
		}
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("initialize onnxruntime from %s: %w", path, err)
			return
		}
		logger.Log().Info("onnxruntime initialized", zap.String("lib", path))
	})
	return envErr
}

// onnxEmbedder runs the embedding network with a fixed NHWC batch of one.
type onnxEmbedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newOnnxEmbedder(m *Manifest, opts Options) (Embedder, error) {
	if err := initRuntime(opts.OnnxRuntimeLib); err != nil {
		return nil, err
	}
	if !fileExists(m.Embedding.Path) {
		return nil, fmt.Errorf("embedding model %q not found", m.Embedding.Path)
	}

	inputShape := ort.NewShape(1, int64(m.Input.Height), int64(m.Input.Width), int64(m.Input.Channels))
	input, err := ort.NewTensor(inputShape, make([]float32, m.Input.Size()))
	if err != nil {
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.Embedding.Dim)))
	if err != nil {
		input.Destroy()
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	threads := opts.IntraOpThreads
	if threads <= 0 {
		threads = 1
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		logger.Log().Warn("failed to set intra-op threads", zap.Error(err))
	}
	if opts.UseGPU {
		if err := appendCUDA(options); err != nil {
			logger.Log().Warn("CUDA provider unavailable, falling back to CPU", zap.Error(err))
		}
	}

	inputName, outputName := m.Embedding.InputName, m.Embedding.OutputName
	if inputName == "" || outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(m.Embedding.Path)
		if err != nil {
			input.Destroy()
			output.Destroy()
			return nil, err
		}
		if inputName == "" && len(inputs) > 0 {
			inputName = inputs[0].Name
		}
		if outputName == "" && len(outputs) > 0 {
			outputName = outputs[0].Name
		}
	}

	session, err := ort.NewAdvancedSession(
		m.Embedding.Path,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	return &onnxEmbedder{session: session, input: input, output: output}, nil
}

func appendCUDA(options *ort.SessionOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	return options.AppendExecutionProviderCUDA(cuda)
}

func (e *onnxEmbedder) Embed(data []float32) ([]float32, error) {
	in := e.input.GetData()
	if len(data) != len(in) {
		return nil, fmt.Errorf("embedding input expects %d values, got %d", len(in), len(data))
	}
	copy(in, data)
	if err := e.session.Run(); err != nil {
		return nil, err
	}
	return append([]float32(nil), e.output.GetData()...), nil
}

func (e *onnxEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
	}
	e.input.Destroy()
	e.output.Destroy()
	return err
}
