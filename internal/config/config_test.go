package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
instance_id: kiosk-01
camera:
  width: 640
  height: 480
detector:
  backend: python
  command: ./models/landmarks.sh
  args: ["--model", "full"]
mqtt:
  broker: localhost:1883
snapshots:
  dir: /tmp/tryon
  format: jpeg
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tryon.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InstanceID != "kiosk-01" {
		t.Errorf("InstanceID = %q", cfg.InstanceID)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("camera = %dx%d, want 640x480", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Render.TickInterval() != time.Second/30 {
		t.Errorf("TickInterval = %v", cfg.Render.TickInterval())
	}
	if cfg.Detector.DetectTimeout() != 200*time.Millisecond {
		t.Errorf("DetectTimeout = %v", cfg.Detector.DetectTimeout())
	}
	if len(cfg.Detector.Args) != 2 {
		t.Errorf("Args = %v", cfg.Detector.Args)
	}
	if cfg.MQTT.Topics.Control != "tryon/control/kiosk-01" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.State != "tryon/state/kiosk-01" {
		t.Errorf("state topic = %q", cfg.MQTT.Topics.State)
	}
	if cfg.Snapshots.JPEGQuality != 90 {
		t.Errorf("JPEGQuality = %d, want 90", cfg.Snapshots.JPEGQuality)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout())
	}
	t.Logf("✅ defaults filled: http=%s backend=%s", cfg.HTTP.Addr, cfg.Detector.Backend)
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("TRYON_INSTANCE_ID", "mirror-7")
	t.Setenv("TRYON_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("TRYON_DETECTOR_DETECT_TIMEOUT_MS", "150")
	t.Setenv("TRYON_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("TRYON_MODELS_ASSETS_DIR", "/srv/tryon/assets")

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.InstanceID != "mirror-7" {
		t.Errorf("InstanceID = %q, want mirror-7", cfg.InstanceID)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Detector.DetectTimeout() != 150*time.Millisecond {
		t.Errorf("DetectTimeout = %v", cfg.Detector.DetectTimeout())
	}
	if cfg.Telemetry.OTLPEndpoint != "http://collector:4318" {
		t.Errorf("OTLPEndpoint = %q", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Models.AssetsDir != "/srv/tryon/assets" {
		t.Errorf("Models.AssetsDir = %q", cfg.Models.AssetsDir)
	}
	// Derived topics follow the overridden instance id.
	if cfg.MQTT.Topics.State != "tryon/state/mirror-7" {
		t.Errorf("state topic = %q", cfg.MQTT.Topics.State)
	}
	// Untouched YAML values survive.
	if cfg.Camera.Width != 640 {
		t.Errorf("Camera.Width = %d, want 640", cfg.Camera.Width)
	}
	t.Logf("✅ env overrides applied on top of YAML")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing instance", "http:\n  addr: :1\n", "instance_id is required"},
		{"bad instance", "instance_id: Kiosk_1\n", "instance_id must match"},
		{"unknown backend", "instance_id: a\ndetector:\n  backend: onnx\n", "unknown backend"},
		{"python without command", "instance_id: a\ndetector:\n  backend: python\n", "command is required"},
		{"half resolution", "instance_id: a\ncamera:\n  width: 640\n", "set together"},
		{"bad snapshot format", "instance_id: a\nsnapshots:\n  format: gif\n", "unknown format"},
		{"bad qos", "instance_id: a\nmqtt:\n  qos: 3\n", "mqtt.qos"},
		{"bad fps", "instance_id: a\nrender:\n  fps: 500\n", "fps must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSyntheticIsDefaultBackend(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: dev\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Detector.Backend != BackendSynthetic {
		t.Errorf("Backend = %q, want %q", cfg.Detector.Backend, BackendSynthetic)
	}
	if cfg.Snapshots.Format != "png" {
		t.Errorf("Format = %q, want png", cfg.Snapshots.Format)
	}
}
