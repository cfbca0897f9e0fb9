package validate

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/mikeyg42/circlecam/internal/config"
	"github.com/mikeyg42/circlecam/internal/state"
	"github.com/mikeyg42/circlecam/internal/vision"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateNetworkConfig(v, &cfg.Server)
	validateCameraConfig(v, &cfg.Camera)
	validateDetectionConfig(v, &cfg.Detection)
	validateLoopConfig(v, &cfg.Loop)
	validateLogConfig(v, &cfg.Log)
	validateVisionConfig(v, &cfg.Vision)
	validateWindowConfig(v, &cfg.Window)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateNetworkConfig(v *Validator, cfg *config.ServerConfig) {
	if cfg.ListenAddr == "" {
		v.AddError("listen address cannot be empty")
	} else if host, portStr, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		v.AddError("listen address must be host:port: %v", err)
	} else {
		if host != "" && host != "localhost" {
			if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
				v.AddError("invalid hostname in listen address: %s", host)
			}
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			v.AddError("invalid port in listen address: %s", portStr)
		}
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		v.AddError("tls_cert_file and tls_key_file must be set together")
	}
	for _, f := range []string{cfg.TLSCertFile, cfg.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			v.AddError("TLS file %s: %v", f, err)
		}
	}

	for _, o := range cfg.AllowedOrigins {
		if !isValidURL(o) {
			v.AddError("invalid allowed origin: %s", o)
		}
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		v.AddError("jpeg_quality must be 1..100, got %d", cfg.JPEGQuality)
	}
	if cfg.CameraRatePerMinute < 1 {
		v.AddError("camera_rate_per_minute must be positive")
	}
}

func validateCameraConfig(v *Validator, cfg *config.CameraConfig) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		v.AddError("invalid camera dimensions: width=%d height=%d", cfg.Width, cfg.Height)
	} else {
		if cfg.Width > 4096 || cfg.Height > 4096 {
			v.AddError("camera dimensions too large: %dx%d (max 4096x4096)", cfg.Width, cfg.Height)
		}
		aspect := float64(cfg.Width) / float64(cfg.Height)
		if aspect < 0.5 || aspect > 3.0 {
			v.AddError("unusual aspect ratio: %dx%d (%.2f)", cfg.Width, cfg.Height, aspect)
		}
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > 120 {
		v.AddError("invalid frame_rate: %v (1–120)", cfg.FrameRate)
	}
	switch cfg.FacingMode {
	case "user", "environment":
	default:
		v.AddError("invalid facing_mode: %q (must be 'user' or 'environment')", cfg.FacingMode)
	}
	if cfg.MetadataTimeout < 100*time.Millisecond {
		v.AddError("metadata_timeout must be >= 100ms")
	}
}

func validateDetectionConfig(v *Validator, cfg *config.DetectionConfig) {
	if cfg.EdgeThreshold <= 0 || cfg.EdgeThreshold > 255 {
		v.AddError("edge_threshold must be 1..255")
	}
	if cfg.AccumulatorThreshold <= 0 {
		v.AddError("accumulator_threshold must be positive")
	}
	if cfg.MinRadius < 0 {
		v.AddError("min_radius must not be negative")
	}
	if cfg.MaxRadius > state.MaxRadiusLimit {
		v.AddError("max_radius must be <= %d", state.MaxRadiusLimit)
	}
	if cfg.MaxRadius <= cfg.MinRadius {
		v.AddError("max_radius (%d) must be greater than min_radius (%d)", cfg.MaxRadius, cfg.MinRadius)
	}
	if cfg.BlurKernel%2 == 0 || cfg.BlurKernel < 3 {
		v.AddError("blur kernel must be odd and >=3")
	}
	switch cfg.Blur {
	case "median", "gaussian":
	default:
		v.AddError("invalid blur: %q (must be 'median' or 'gaussian')", cfg.Blur)
	}
	if cfg.DP < 1 {
		v.AddError("dp must be >= 1")
	}
}

func validateLoopConfig(v *Validator, cfg *config.LoopConfig) {
	if cfg.Interval < time.Millisecond {
		v.AddError("loop interval too short (min 1ms)")
	} else if cfg.Interval > time.Second {
		v.AddError("loop interval too long (max 1s)")
	}
}

func validateLogConfig(v *Validator, cfg *config.LogConfig) {
	if _, err := zapcore.ParseLevel(cfg.Level); err != nil {
		v.AddError("invalid log level: %v", err)
	}
}

func validateVisionConfig(v *Validator, cfg *config.VisionConfig) {
	if cfg.Backend == config.BackendAuto {
		if len(vision.Backends()) == 0 {
			v.AddError("no vision backend compiled in")
		}
		return
	}
	if _, err := vision.Lookup(cfg.Backend); err != nil {
		v.AddError("%v", err)
	}
}

func validateWindowConfig(v *Validator, cfg *config.WindowConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Width < 320 || cfg.Height < 240 {
		v.AddError("window size too small: %dx%d (min 320x240)", cfg.Width, cfg.Height)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)

func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, l := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(l) {
			return false
		}
	}
	return true
}
