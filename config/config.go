package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "FACEVERIFY_"

type Camera struct {
	Device       int  `yaml:"device"`
	CropX        int  `yaml:"cropX"`
	CropY        int  `yaml:"cropY"`
	CropWidth    int  `yaml:"cropWidth"`
	CropHeight   int  `yaml:"cropHeight"`
	FlipVertical bool `yaml:"flipVertical"`
	FPS          int  `yaml:"fps"`
}

type Model struct {
	Manifest       string        `yaml:"manifest"`
	OnnxRuntimeLib string        `yaml:"onnxRuntimeLib"`
	IntraOpThreads int           `yaml:"intraOpThreads"`
	UseGPU         bool          `yaml:"useGPU"`
	Timeout        time.Duration `yaml:"timeout"`
	Warmup         bool          `yaml:"warmup"`
}

type Verification struct {
	DetectionThreshold    float64       `yaml:"detectionThreshold"`
	VerificationThreshold float64       `yaml:"verificationThreshold"`
	InputImage            string        `yaml:"inputImage"`
	VerificationDir       string        `yaml:"verificationDir"`
	Timeout               time.Duration `yaml:"timeout"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

type Server struct {
	HTTPPort    int  `yaml:"httpPort"`
	GRPCPort    int  `yaml:"grpcPort"`
	MetricsPort int  `yaml:"metricsPort"`
	Metrics     bool `yaml:"metrics"`
}

type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Notify struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Config struct {
	Camera       Camera       `yaml:"camera"`
	Model        Model        `yaml:"model"`
	Verification Verification `yaml:"verification"`
	Logging      Logging      `yaml:"logging"`
	Server       Server       `yaml:"server"`
	History      History      `yaml:"history"`
	Notify       Notify       `yaml:"notify"`
}

func Default() *Config {
	return &Config{
		Camera: Camera{
			Device:     0,
			CropX:      200,
			CropY:      120,
			CropWidth:  250,
			CropHeight: 250,
			FPS:        33,
		},
		Model: Model{
			Manifest:       filepath.Join("model", "siamese_model.yaml"),
			IntraOpThreads: 1,
			Timeout:        5 * time.Second,
			Warmup:         true,
		},
		Verification: Verification{
			DetectionThreshold:    0.7,
			VerificationThreshold: 0.6,
			InputImage:            filepath.Join("application_data", "input_image", "input_image.jpg"),
			VerificationDir:       filepath.Join("application_data", "verification_images"),
		},
		Logging: Logging{
			Level: "info",
		},
		Server: Server{
			HTTPPort:    8080,
			GRPCPort:    50051,
			MetricsPort: 50053,
			Metrics:     true,
		},
		History: History{
			Enabled: true,
			Path:    filepath.Join("application_data", "history.db"),
		},
		Notify: Notify{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// FACEVERIFY_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Camera.Device = getEnvAsInt("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.CropX = getEnvAsInt("CROP_X", c.Camera.CropX)
	c.Camera.CropY = getEnvAsInt("CROP_Y", c.Camera.CropY)
	c.Camera.CropWidth = getEnvAsInt("CROP_WIDTH", c.Camera.CropWidth)
	c.Camera.CropHeight = getEnvAsInt("CROP_HEIGHT", c.Camera.CropHeight)
	c.Camera.FPS = getEnvAsInt("FPS", c.Camera.FPS)

	c.Model.Manifest = getEnv("MODEL_MANIFEST", c.Model.Manifest)
	c.Model.OnnxRuntimeLib = getEnv("ONNXRUNTIME_LIB", c.Model.OnnxRuntimeLib)
	c.Model.UseGPU = getEnvAsBool("USE_GPU", c.Model.UseGPU)

	c.Verification.DetectionThreshold = getEnvAsFloat("DETECTION_THRESHOLD", c.Verification.DetectionThreshold)
	c.Verification.VerificationThreshold = getEnvAsFloat("VERIFICATION_THRESHOLD", c.Verification.VerificationThreshold)
	c.Verification.InputImage = getEnv("INPUT_IMAGE", c.Verification.InputImage)
	c.Verification.VerificationDir = getEnv("VERIFICATION_DIR", c.Verification.VerificationDir)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)

	c.Server.HTTPPort = getEnvAsInt("HTTP_PORT", c.Server.HTTPPort)
	c.Server.GRPCPort = getEnvAsInt("GRPC_PORT", c.Server.GRPCPort)
	c.Server.MetricsPort = getEnvAsInt("METRICS_PORT", c.Server.MetricsPort)

	c.History.Path = getEnv("HISTORY_PATH", c.History.Path)
	c.Notify.WebhookURL = getEnv("WEBHOOK_URL", c.Notify.WebhookURL)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Camera.CropX < 0 || c.Camera.CropY < 0 {
		errs = append(errs, fmt.Errorf("camera crop offset must be non-negative, got (%d,%d)", c.Camera.CropX, c.Camera.CropY))
	}
	if c.Camera.CropWidth <= 0 || c.Camera.CropHeight <= 0 {
		errs = append(errs, fmt.Errorf("camera crop size must be positive, got %dx%d", c.Camera.CropWidth, c.Camera.CropHeight))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera fps must be positive, got %d", c.Camera.FPS))
	}
	if !unit(c.Verification.DetectionThreshold) {
		errs = append(errs, fmt.Errorf("detection threshold must be between 0.0 and 1.0, got %f", c.Verification.DetectionThreshold))
	}
	if !unit(c.Verification.VerificationThreshold) {
		errs = append(errs, fmt.Errorf("verification threshold must be between 0.0 and 1.0, got %f", c.Verification.VerificationThreshold))
	}
	if c.Verification.InputImage == "" {
		errs = append(errs, errors.New("input image path cannot be empty"))
	}
	if c.Verification.VerificationDir == "" {
		errs = append(errs, errors.New("verification directory cannot be empty"))
	}
	if c.Model.Manifest == "" {
		errs = append(errs, errors.New("model manifest path cannot be empty"))
	}
	for name, port := range map[string]int{"http": c.Server.HTTPPort, "grpc": c.Server.GRPCPort, "metrics": c.Server.MetricsPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s port out of range: %d", name, port))
		}
	}
	return errors.Join(errs...)
}

// FrameInterval is the display loop period derived from Camera.FPS.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.FPS)
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
