package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"FaceVerify/config"
	iface "FaceVerify/interface"
	"FaceVerify/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrCropOutOfBounds   = errors.New("crop region outside frame")
)

// CaptureError reports a failed frame read on an open device.
type CaptureError struct {
	Device int
	Reason string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture from device %d: %s", e.Device, e.Reason)
}

func (e *CaptureError) Unwrap() error { return ErrDeviceUnavailable }

// Source owns the camera handle. The display loop and the verifier share it,
// so every read is serialized.
type Source struct {
	mu     sync.Mutex
	device int
	crop   image.Rectangle
	flip   bool
	webcam *gocv.VideoCapture
	raw    gocv.Mat
}

var _ iface.FrameSource = (*Source)(nil)

// Open opens the device, reads one probe frame and checks that the crop
// rectangle fits inside it.
func Open(cfg config.Camera) (*Source, error) {
	webcam, err := gocv.VideoCaptureDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: open device %d: %w", ErrDeviceUnavailable, cfg.Device, err)
	}
	if !webcam.IsOpened() {
		_ = webcam.Close()
		return nil, fmt.Errorf("%w: device %d not opened", ErrDeviceUnavailable, cfg.Device)
	}

	s := &Source{
		device: cfg.Device,
		crop:   CropRect(cfg),
		flip:   cfg.FlipVertical,
		webcam: webcam,
		raw:    gocv.NewMat(),
	}
	if ok := webcam.Read(&s.raw); !ok || s.raw.Empty() {
		_ = s.Close()
		return nil, fmt.Errorf("%w: device %d returned no probe frame", ErrDeviceUnavailable, cfg.Device)
	}
	if err := ValidateCrop(s.crop, s.raw.Cols(), s.raw.Rows()); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Log().Info("camera opened",
		zap.Int("device", cfg.Device),
		zap.Int("frameWidth", s.raw.Cols()),
		zap.Int("frameHeight", s.raw.Rows()),
		zap.String("crop", s.crop.String()))
	return s, nil
}

// CropRect converts the configured offset and size into a rectangle.
func CropRect(cfg config.Camera) image.Rectangle {
	return image.Rect(cfg.CropX, cfg.CropY, cfg.CropX+cfg.CropWidth, cfg.CropY+cfg.CropHeight)
}

func ValidateCrop(crop image.Rectangle, width, height int) error {
	if crop.Empty() {
		return fmt.Errorf("%w: empty crop %v", ErrCropOutOfBounds, crop)
	}
	if !crop.In(image.Rect(0, 0, width, height)) {
		return fmt.Errorf("%w: crop %v does not fit frame %dx%d", ErrCropOutOfBounds, crop, width, height)
	}
	return nil
}

// Frame is one cropped capture in BGR order. Callers must Close it.
type Frame struct {
	mat gocv.Mat
}

func (f *Frame) Close() error {
	return f.mat.Close()
}

// Image converts the BGR frame to an RGBA image for the GUI, flipping it
// vertically when the toolkit expects bottom-up rows.
func (f *Frame) Image(flipVertical bool) (image.Image, error) {
	if !flipVertical {
		return f.mat.ToImage()
	}
	flipped := gocv.NewMat()
	defer flipped.Close()
	if err := gocv.Flip(f.mat, &flipped, 0); err != nil {
		return nil, err
	}
	return flipped.ToImage()
}

// WriteJPEG persists the frame, creating parent directories and replacing
// any previous file.
func (f *Frame) WriteJPEG(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if ok := gocv.IMWrite(path, f.mat); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

// EncodeJPEG returns the frame as JPEG bytes.
func (f *Frame) EncodeJPEG() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Capture reads one frame and returns its crop.
func (s *Source) Capture() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.webcam == nil {
		return nil, &CaptureError{Device: s.device, Reason: "device closed"}
	}
	if ok := s.webcam.Read(&s.raw); !ok {
		return nil, &CaptureError{Device: s.device, Reason: "read failed"}
	}
	if s.raw.Empty() {
		return nil, &CaptureError{Device: s.device, Reason: "empty frame"}
	}
	if err := ValidateCrop(s.crop, s.raw.Cols(), s.raw.Rows()); err != nil {
		return nil, &CaptureError{Device: s.device, Reason: err.Error()}
	}
	region := s.raw.Region(s.crop)
	defer region.Close()
	return &Frame{mat: region.Clone()}, nil
}

// CaptureTo captures one frame and writes it as a JPEG at path.
func (s *Source) CaptureTo(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := s.Capture()
	if err != nil {
		return err
	}
	defer frame.Close()
	return frame.WriteJPEG(path)
}

// Snapshot captures one frame and converts it for display.
func (s *Source) Snapshot() (image.Image, error) {
	frame, err := s.Capture()
	if err != nil {
		return nil, err
	}
	defer frame.Close()
	return frame.Image(s.flip)
}

// SnapshotJPEG captures one frame and encodes it as JPEG.
func (s *Source) SnapshotJPEG() ([]byte, error) {
	frame, err := s.Capture()
	if err != nil {
		return nil, err
	}
	defer frame.Close()
	return frame.EncodeJPEG()
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.webcam == nil {
		return nil
	}
	_ = s.raw.Close()
	err := s.webcam.Close()
	s.webcam = nil
	return err
}
