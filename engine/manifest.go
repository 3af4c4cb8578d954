package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type InputSpec struct {
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Channels int `yaml:"channels"`
}

func (s InputSpec) Size() int {
	return s.Width * s.Height * s.Channels
}

type EmbeddingSpec struct {
	Path       string `yaml:"path"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	Dim        int    `yaml:"dim"`
}

// LayerSpec describes one head layer. Type is the registry key.
type LayerSpec struct {
	Type       string    `yaml:"type"`
	Units      int       `yaml:"units"`
	Activation string    `yaml:"activation"`
	Weights    string    `yaml:"weights"`
	Kernel     []float32 `yaml:"kernel"`
	Bias       []float32 `yaml:"bias"`
}

// Manifest is the serialized siamese model: an embedding network plus the
// head that turns two embeddings into one score.
type Manifest struct {
	Name      string        `yaml:"name"`
	Input     InputSpec     `yaml:"input"`
	Embedding EmbeddingSpec `yaml:"embedding"`
	Head      []LayerSpec   `yaml:"head"`
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrModelLoad, path, err)
	}
	m.resolve(filepath.Dir(path))
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, path, err)
	}
	return m, nil
}

// resolve makes artifact paths relative to the manifest directory.
func (m *Manifest) resolve(dir string) {
	if m.Embedding.Path != "" && !filepath.IsAbs(m.Embedding.Path) {
		m.Embedding.Path = filepath.Join(dir, m.Embedding.Path)
	}
	for i := range m.Head {
		if w := m.Head[i].Weights; w != "" && !filepath.IsAbs(w) {
			m.Head[i].Weights = filepath.Join(dir, w)
		}
	}
}

func (m *Manifest) validate() error {
	var errs []error
	if m.Input.Width <= 0 || m.Input.Height <= 0 || m.Input.Channels <= 0 {
		errs = append(errs, fmt.Errorf("invalid input shape %dx%dx%d", m.Input.Height, m.Input.Width, m.Input.Channels))
	}
	if m.Embedding.Dim <= 0 {
		errs = append(errs, fmt.Errorf("invalid embedding dim %d", m.Embedding.Dim))
	}
	if len(m.Head) == 0 {
		errs = append(errs, errors.New("head has no layers"))
	}
	return errors.Join(errs...)
}

// readFloat32s reads a little-endian float32 blob of exactly n values.
func readFloat32s(path string, n int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != int64(n)*4 {
		return nil, fmt.Errorf("%s: expected %d float32 values (%d bytes), got %d bytes", path, n, n*4, info.Size())
	}
	out := make([]float32, n)
	if err := binary.Read(f, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
