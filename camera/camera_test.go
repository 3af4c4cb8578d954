package camera

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"FaceVerify/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestCropRect(t *testing.T) {
	cfg := config.Default().Camera
	assert.Equal(t, image.Rect(200, 120, 450, 370), CropRect(cfg))
}

func TestValidateCrop(t *testing.T) {
	crop := CropRect(config.Default().Camera)

	tests := []struct {
		name          string
		width, height int
		crop          image.Rectangle
		wantErr       bool
	}{
		{"640x480 fits default crop", 640, 480, crop, false},
		{"exact fit", 450, 370, crop, false},
		{"too narrow", 400, 480, crop, true},
		{"too short", 640, 360, crop, true},
		{"empty crop", 640, 480, image.Rect(10, 10, 10, 10), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCrop(tt.crop, tt.width, tt.height)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCropOutOfBounds)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCaptureError(t *testing.T) {
	err := error(&CaptureError{Device: 1, Reason: "empty frame"})
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
	assert.Equal(t, "capture from device 1: empty frame", err.Error())
}

func TestCaptureClosedSource(t *testing.T) {
	s := &Source{device: 3}
	_, err := s.Capture()
	var captureErr *CaptureError
	assert.ErrorAs(t, err, &captureErr)
	assert.NoError(t, s.Close())
}

// newFrame builds a 2x2 BGR frame: the top row is (B10,G20,R30) and the
// bottom row (B40,G50,R60).
func newFrame(t *testing.T) *Frame {
	t.Helper()
	data := []byte{
		10, 20, 30, 10, 20, 30,
		40, 50, 60, 40, 50, 60,
	}
	mat, err := gocv.NewMatFromBytes(2, 2, gocv.MatTypeCV8UC3, data)
	require.NoError(t, err)
	f := &Frame{mat: mat}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestFrameImage(t *testing.T) {
	f := newFrame(t)

	t.Run("bgr to rgba", func(t *testing.T) {
		img, err := f.Image(false)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
		assert.Equal(t, color.RGBA{R: 30, G: 20, B: 10, A: 255}, rgbaAt(img, 0, 0))
		assert.Equal(t, color.RGBA{R: 60, G: 50, B: 40, A: 255}, rgbaAt(img, 1, 1))
	})

	t.Run("vertical flip swaps rows", func(t *testing.T) {
		img, err := f.Image(true)
		require.NoError(t, err)
		assert.Equal(t, color.RGBA{R: 60, G: 50, B: 40, A: 255}, rgbaAt(img, 0, 0))
		assert.Equal(t, color.RGBA{R: 30, G: 20, B: 10, A: 255}, rgbaAt(img, 1, 1))
	})
}

func TestFrameWriteJPEG(t *testing.T) {
	f := newFrame(t)
	dir := filepath.Join(t.TempDir(), "application_data", "input_image")
	path := filepath.Join(dir, "input_image.jpg")

	require.NoError(t, f.WriteJPEG(path))
	require.NoError(t, f.WriteJPEG(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	img, err := jpeg.Decode(file)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
}

func TestFrameEncodeJPEG(t *testing.T) {
	buf, err := newFrame(t).EncodeJPEG()
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
}
