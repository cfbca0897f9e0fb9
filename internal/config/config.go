package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/circlecam/internal/acquire"
	"github.com/mikeyg42/circlecam/internal/state"
)

// Environment overrides.
const (
	EnvConfigFile = "CONFIG_FILE"
	EnvAddr       = "CIRCLECAM_ADDR"
	EnvBackend    = "CIRCLECAM_BACKEND"
	EnvLogLevel   = "CIRCLECAM_LOG_LEVEL"
)

// BackendAuto picks OpenCV when it is compiled in, else the native backend.
const BackendAuto = "auto"

// Config holds all application configuration
type Config struct {
	Camera    CameraConfig    `yaml:"camera" json:"camera"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Loop      LoopConfig      `yaml:"loop" json:"loop"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Vision    VisionConfig    `yaml:"vision" json:"vision"`
	Window    WindowConfig    `yaml:"window" json:"window"`
}

type CameraConfig struct {
	Width           int           `yaml:"width" json:"width"`
	Height          int           `yaml:"height" json:"height"`
	FrameRate       float64       `yaml:"frame_rate" json:"frame_rate"`
	FacingMode      string        `yaml:"facing_mode" json:"facing_mode"` // user, environment
	DeviceID        string        `yaml:"device_id" json:"device_id"`     // overrides facing_mode
	MetadataTimeout time.Duration `yaml:"metadata_timeout" json:"metadata_timeout"`
}

// DetectionConfig holds the initial slider positions.
type DetectionConfig struct {
	EdgeThreshold        float64 `yaml:"edge_threshold" json:"edge_threshold"`
	AccumulatorThreshold float64 `yaml:"accumulator_threshold" json:"accumulator_threshold"`
	MinRadius            int     `yaml:"min_radius" json:"min_radius"`
	MaxRadius            int     `yaml:"max_radius" json:"max_radius"`
	BlurKernel           int     `yaml:"blur_kernel" json:"blur_kernel"`
	Blur                 string  `yaml:"blur" json:"blur"` // median, gaussian
	DP                   float64 `yaml:"dp" json:"dp"`
}

type LoopConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr" json:"listen_addr"`
	TLSCertFile    string   `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile     string   `yaml:"tls_key_file" json:"tls_key_file"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	JPEGQuality    int      `yaml:"jpeg_quality" json:"jpeg_quality"`
	// Camera endpoint requests allowed per client IP per minute.
	CameraRatePerMinute int `yaml:"camera_rate_per_minute" json:"camera_rate_per_minute"`
}

type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

type VisionConfig struct {
	Backend string `yaml:"backend" json:"backend"` // auto, opencv, native
}

// WindowConfig controls the optional native UI window.
type WindowConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Width   int  `yaml:"width" json:"width"`
	Height  int  `yaml:"height" json:"height"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	p := state.DefaultParams()
	c := acquire.DefaultConstraints()
	return &Config{
		Camera: CameraConfig{
			Width:           c.Width,
			Height:          c.Height,
			FrameRate:       c.FrameRate,
			FacingMode:      string(c.Facing),
			MetadataTimeout: 5 * time.Second,
		},
		Detection: DetectionConfig{
			EdgeThreshold:        p.EdgeThreshold,
			AccumulatorThreshold: p.AccumulatorThreshold,
			MinRadius:            p.MinRadius,
			MaxRadius:            p.MaxRadius,
			BlurKernel:           p.BlurKernel,
			Blur:                 string(p.Blur),
			DP:                   p.DP,
		},
		Loop: LoopConfig{
			Interval: 33 * time.Millisecond,
		},
		Server: ServerConfig{
			ListenAddr: "localhost:7000",
			AllowedOrigins: []string{
				"http://localhost:7000",
				"http://127.0.0.1:7000",
			},
			JPEGQuality:         80,
			CameraRatePerMinute: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
		Vision: VisionConfig{
			Backend: BackendAuto,
		},
		Window: WindowConfig{
			Width:  1024,
			Height: 768,
		},
	}
}

// ResolvePath returns the config file to load: the flag value, else the
// CONFIG_FILE environment variable, else "" for defaults only.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigFile)
}

// Load reads the YAML (or JSON) file at path over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && strings.TrimSpace(v) != "" {
		cfg.Server.ListenAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBackend); ok && strings.TrimSpace(v) != "" {
		cfg.Vision.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
}

// Params converts the detection section into loop parameters.
func (d DetectionConfig) Params() state.Params {
	return state.Params{
		EdgeThreshold:        d.EdgeThreshold,
		AccumulatorThreshold: d.AccumulatorThreshold,
		MinRadius:            d.MinRadius,
		MaxRadius:            d.MaxRadius,
		BlurKernel:           d.BlurKernel,
		Blur:                 state.BlurKind(d.Blur),
		DP:                   d.DP,
	}
}

// Constraints converts the camera section into acquisition constraints.
func (c CameraConfig) Constraints() acquire.Constraints {
	return acquire.Constraints{
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FrameRate,
		Facing:    acquire.FacingMode(c.FacingMode),
		DeviceID:  c.DeviceID,
	}
}

// TLSEnabled reports whether both a certificate and a key are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}
