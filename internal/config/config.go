// Package config loads the experiment configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory.
const FileName = "expression.yaml"

// Duplicate stimulus name policies.
const (
	DuplicateOverwrite = "overwrite"
	DuplicateSuffix    = "suffix"
)

// DefaultLabels is the ordered emotion list presented in phases 1 and 3.
var DefaultLabels = []string{"Neutral", "Alegría", "Tristeza", "Enojo", "Sorprendido", "Asco", "Miedo"}

// Config is the effective experiment configuration.
type Config struct {
	Duration               Seconds       `yaml:"duration"`
	FrameRate              float64       `yaml:"frame_rate"`
	ImageStimulusDirectory string        `yaml:"image_stimulus_directory"`
	EmotionLabels          []string      `yaml:"emotion_labels"`
	OutputRootDirectory    string        `yaml:"output_root_directory"`
	DuplicateNames         string        `yaml:"duplicate_names"`
	Camera                 CameraConfig  `yaml:"camera"`
	Display                DisplayConfig `yaml:"display"`
	Catalog                *bool         `yaml:"catalog"`
}

// CameraConfig selects the capture device and the output codec.
type CameraConfig struct {
	Device    int    `yaml:"device"`
	Codec     string `yaml:"codec"`     // fourcc, e.g. XVID
	Extension string `yaml:"extension"` // e.g. .avi
}

// DisplayConfig is the full-screen presentation target.
type DisplayConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	CancelKey int `yaml:"cancel_key"`
}

// Seconds is a duration that accepts either a Go duration string ("2s",
// "1500ms") or a bare number of seconds in YAML.
type Seconds time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*s = Seconds(time.Duration(f * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*s = Seconds(d)
	return nil
}

// Std returns the value as a time.Duration.
func (s Seconds) Std() time.Duration { return time.Duration(s) }

// CatalogEnabled reports whether the SQLite catalog should be written.
func (c *Config) CatalogEnabled() bool {
	return c.Catalog == nil || *c.Catalog
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Duration:               Seconds(2 * time.Second),
		FrameRate:              20,
		ImageStimulusDirectory: "Imagenes",
		EmotionLabels:          append([]string(nil), DefaultLabels...),
		OutputRootDirectory:    DefaultOutputRoot(),
		DuplicateNames:         DuplicateOverwrite,
		Camera: CameraConfig{
			Device:    0,
			Codec:     "XVID",
			Extension: ".avi",
		},
		Display: DisplayConfig{
			Width:     1920,
			Height:    1080,
			CancelKey: 27,
		},
	}
}

// DefaultOutputRoot returns <home>/Documents/Facial expressions records.
func DefaultOutputRoot() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Documents", "Facial expressions records")
}

// Discover returns the first existing config path, or "" when none exists.
// The working directory wins over the user config directory.
func Discover(cwd string) string {
	candidates := []string{filepath.Join(cwd, FileName)}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "expression", "config.yaml"))
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Load reads a YAML file on top of Default and validates the result.
// An empty path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, Validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("read config: %w", err)}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("parse config: %w", err)}
	}

	cfg.OutputRootDirectory = expandHome(cfg.OutputRootDirectory)
	cfg.ImageStimulusDirectory = expandHome(cfg.ImageStimulusDirectory)
	if !filepath.IsAbs(cfg.ImageStimulusDirectory) && cfg.ImageStimulusDirectory != "" {
		cfg.ImageStimulusDirectory = filepath.Join(filepath.Dir(path), cfg.ImageStimulusDirectory)
	}

	if err := Validate(cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

// Validate checks the configuration and fills defaults for optional fields.
func Validate(cfg *Config) error {
	if cfg.Duration <= 0 {
		return errors.New("duration must be > 0")
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > 120 {
		return fmt.Errorf("frame_rate must be in (0, 120], got %v", cfg.FrameRate)
	}
	if len(cfg.EmotionLabels) == 0 {
		return errors.New("emotion_labels must not be empty")
	}
	for i, l := range cfg.EmotionLabels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("emotion_labels[%d] is empty", i)
		}
		if strings.ContainsAny(l, `/\`) {
			return fmt.Errorf("emotion_labels[%d] %q contains a path separator", i, l)
		}
	}
	if strings.TrimSpace(cfg.OutputRootDirectory) == "" {
		cfg.OutputRootDirectory = DefaultOutputRoot()
	}

	switch cfg.DuplicateNames {
	case "":
		cfg.DuplicateNames = DuplicateOverwrite
	case DuplicateOverwrite, DuplicateSuffix:
	default:
		return fmt.Errorf("duplicate_names must be %q or %q, got %q", DuplicateOverwrite, DuplicateSuffix, cfg.DuplicateNames)
	}

	if cfg.Camera.Device < 0 {
		return fmt.Errorf("camera.device must be >= 0, got %d", cfg.Camera.Device)
	}
	if cfg.Camera.Codec == "" {
		cfg.Camera.Codec = "XVID"
	}
	if len(cfg.Camera.Codec) != 4 {
		return fmt.Errorf("camera.codec must be a 4-character fourcc, got %q", cfg.Camera.Codec)
	}
	if cfg.Camera.Extension == "" {
		cfg.Camera.Extension = ".avi"
	}
	if !strings.HasPrefix(cfg.Camera.Extension, ".") {
		cfg.Camera.Extension = "." + cfg.Camera.Extension
	}

	if cfg.Display.Width <= 0 || cfg.Display.Height <= 0 {
		return fmt.Errorf("display must be positive, got %dx%d", cfg.Display.Width, cfg.Display.Height)
	}
	if cfg.Display.CancelKey == 0 {
		cfg.Display.CancelKey = 27
	}
	return nil
}

// Error reports a config file that could not be used.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func expandHome(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
