package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikeyg42/circlecam/internal/acquire"
	"github.com/mikeyg42/circlecam/internal/state"
)

func TestDefaultsMatchComponents(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Detection.Params() != state.DefaultParams() {
		t.Fatalf("detection defaults %+v differ from state defaults", cfg.Detection.Params())
	}
	if cfg.Camera.Constraints() != acquire.DefaultConstraints() {
		t.Fatalf("camera defaults %+v differ from acquire defaults", cfg.Camera.Constraints())
	}
	if cfg.Server.TLSEnabled() {
		t.Fatal("TLS should be off by default")
	}
}

func TestLoadFile(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{"YAML", "config.yaml", `
camera:
  facing_mode: environment
  metadata_timeout: 2s
detection:
  min_radius: 15
  blur: gaussian
loop:
  interval: 50ms
server:
  listen_addr: "127.0.0.1:8080"
`},
		{"JSON", "config.json", `{
  "camera": {"facing_mode": "environment", "metadata_timeout": "2s"},
  "detection": {"min_radius": 15, "blur": "gaussian"},
  "loop": {"interval": "50ms"},
  "server": {"listen_addr": "127.0.0.1:8080"}
}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Camera.FacingMode != "environment" || cfg.Camera.MetadataTimeout != 2*time.Second {
				t.Fatalf("camera section not loaded: %+v", cfg.Camera)
			}
			if cfg.Detection.MinRadius != 15 || cfg.Detection.Blur != "gaussian" {
				t.Fatalf("detection section not loaded: %+v", cfg.Detection)
			}
			// Keys absent from the file keep their defaults.
			if cfg.Detection.MaxRadius != 100 || cfg.Camera.Width != 640 {
				t.Fatalf("defaults lost: max_radius=%d width=%d", cfg.Detection.MaxRadius, cfg.Camera.Width)
			}
			if cfg.Loop.Interval != 50*time.Millisecond {
				t.Fatalf("interval = %v", cfg.Loop.Interval)
			}
			if cfg.Server.ListenAddr != "127.0.0.1:8080" {
				t.Fatalf("listen_addr = %q", cfg.Server.ListenAddr)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("camera: [unclosed"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("malformed file should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAddr:     " 0.0.0.0:9000 ",
		EnvBackend:  "NATIVE",
		EnvLogLevel: "Debug",
	}
	cfg := NewDefaultConfig()
	ApplyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	if cfg.Server.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Vision.Backend != "native" {
		t.Fatalf("backend = %q", cfg.Vision.Backend)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}

	// Blank values do not clear settings.
	cfg = NewDefaultConfig()
	ApplyEnv(cfg, func(string) (string, bool) { return "", true })
	if cfg.Server.ListenAddr != "localhost:7000" {
		t.Fatalf("blank env cleared addr: %q", cfg.Server.ListenAddr)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigFile, "/etc/circlecam.yaml")
	if got := ResolvePath("./local.yaml"); got != "./local.yaml" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := ResolvePath(""); got != "/etc/circlecam.yaml" {
		t.Fatalf("env fallback = %q", got)
	}
}
