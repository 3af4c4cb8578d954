package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	iface "FaceVerify/interface"

	"github.com/nfnt/resize"
)

const (
	DefaultWidth  = 100
	DefaultHeight = 100
	Channels      = 3
)

var (
	ErrImageRead   = errors.New("image read error")
	ErrImageDecode = errors.New("image decode error")
)

type ImageReadError struct {
	Path string
	Err  error
}

func (e *ImageReadError) Error() string {
	return fmt.Sprintf("read image %s: %v", e.Path, e.Err)
}

func (e *ImageReadError) Unwrap() []error { return []error{ErrImageRead, e.Err} }

type ImageDecodeError struct {
	Path string
	Err  error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("decode image %s: %v", e.Path, e.Err)
}

func (e *ImageDecodeError) Unwrap() []error { return []error{ErrImageDecode, e.Err} }

// Preprocessor turns an image file into a model input tensor. The resize is
// a stretch to exactly Width x Height; aspect ratio is not preserved.
type Preprocessor struct {
	Width  int
	Height int
}

var std = Preprocessor{Width: DefaultWidth, Height: DefaultHeight}

// Preprocess loads path and returns a 100x100x3 tensor scaled to [0,1].
func Preprocess(path string) (iface.Tensor, error) {
	return std.Preprocess(path)
}

func (p Preprocessor) Preprocess(path string) (iface.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return iface.Tensor{}, &ImageReadError{Path: path, Err: err}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return iface.Tensor{}, &ImageDecodeError{Path: path, Err: err}
	}
	return p.FromImage(img), nil
}

func (p Preprocessor) FromImage(img image.Image) iface.Tensor {
	resized := resize.Resize(uint(p.Width), uint(p.Height), img, resize.Bilinear)

	rgba := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	draw.Draw(rgba, rgba.Bounds(), resized, resized.Bounds().Min, draw.Src)

	t := iface.NewTensor(p.Height, p.Width, Channels)
	for y := 0; y < p.Height; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < p.Width; x++ {
			px := row[x*4:]
			t.Set(y, x, 0, float32(px[0])/255.0)
			t.Set(y, x, 1, float32(px[1])/255.0)
			t.Set(y, x, 2, float32(px[2])/255.0)
		}
	}
	return t
}
