package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete try-on daemon configuration.
//
// Values come from the YAML file first; TRYON_* environment variables
// override them, then Validate fills defaults.
type Config struct {
	InstanceID       string          `yaml:"instance_id" env:"TRYON_INSTANCE_ID"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s" env:"TRYON_SHUTDOWN_TIMEOUT_S"` // default: 5
	HTTP             HTTPConfig      `yaml:"http"`
	Camera           CameraConfig    `yaml:"camera"`
	Render           RenderConfig    `yaml:"render"`
	Detector         DetectorConfig  `yaml:"detector"`
	Models           ModelsConfig    `yaml:"models"`
	Snapshots        SnapshotsConfig `yaml:"snapshots"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`
}

// HTTPConfig contains the API listener settings
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"TRYON_HTTP_ADDR"` // default: :8080
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Width             int    `yaml:"width" env:"TRYON_CAMERA_WIDTH"`   // ideal width, default 1280
	Height            int    `yaml:"height" env:"TRYON_CAMERA_HEIGHT"` // ideal height, default 720
	SysfsRoot         string `yaml:"sysfs_root" env:"TRYON_CAMERA_SYSFS_ROOT"`
	DevRoot           string `yaml:"dev_root" env:"TRYON_CAMERA_DEV_ROOT"`
	StartTimeoutMS    int    `yaml:"start_timeout_ms" env:"TRYON_CAMERA_START_TIMEOUT_MS"`       // default: 5000
	PlaybackTimeoutMS int    `yaml:"playback_timeout_ms" env:"TRYON_CAMERA_PLAYBACK_TIMEOUT_MS"` // default: 5000
}

// RenderConfig contains overlay and render loop settings
type RenderConfig struct {
	FPS            int     `yaml:"fps" env:"TRYON_RENDER_FPS"`                         // default: 30
	PixelRatio     float64 `yaml:"pixel_ratio" env:"TRYON_RENDER_PIXEL_RATIO"`         // default: 1
	CameraDistance float64 `yaml:"camera_distance" env:"TRYON_RENDER_CAMERA_DISTANCE"` // default: 2
	DisableMirror  bool    `yaml:"disable_mirror" env:"TRYON_RENDER_DISABLE_MIRROR"`
}

// DetectorConfig selects the landmark backend
type DetectorConfig struct {
	Backend         string   `yaml:"backend" env:"TRYON_DETECTOR_BACKEND"` // synthetic, python
	Command         string   `yaml:"command" env:"TRYON_DETECTOR_COMMAND"`
	Args            []string `yaml:"args" env:"TRYON_DETECTOR_ARGS"`
	InitTimeoutMS   int      `yaml:"init_timeout_ms" env:"TRYON_DETECTOR_INIT_TIMEOUT_MS"`     // default: 10000
	DetectTimeoutMS int      `yaml:"detect_timeout_ms" env:"TRYON_DETECTOR_DETECT_TIMEOUT_MS"` // default: 200
}

// ModelsConfig contains external model asset limits
type ModelsConfig struct {
	FetchTimeoutMS int    `yaml:"fetch_timeout_ms" env:"TRYON_MODELS_FETCH_TIMEOUT_MS"` // default: 10000
	MaxBytes       int64  `yaml:"max_bytes" env:"TRYON_MODELS_MAX_BYTES"`               // default: 32MiB
	AssetsDir      string `yaml:"assets_dir" env:"TRYON_MODELS_ASSETS_DIR"`             // local model refs resolve here; empty allows only http(s)
}

// SnapshotsConfig contains try-on snapshot output settings
type SnapshotsConfig struct {
	Dir         string `yaml:"dir" env:"TRYON_SNAPSHOTS_DIR"`       // empty disables snapshots
	Format      string `yaml:"format" env:"TRYON_SNAPSHOTS_FORMAT"` // png, jpeg
	JPEGQuality int    `yaml:"jpeg_quality" env:"TRYON_SNAPSHOTS_JPEG_QUALITY"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables
// the emitter and the control plane.
type MQTTConfig struct {
	Broker string     `yaml:"broker" env:"TRYON_MQTT_BROKER"`
	Topics MQTTTopics `yaml:"topics"`
	QoS    byte       `yaml:"qos" env:"TRYON_MQTT_QOS"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	State   string `yaml:"state"`
	Status  string `yaml:"status"`
}

// TelemetryConfig contains tracing export settings
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"TRYON_OTLP_ENDPOINT"` // empty disables export
	ServiceName  string `yaml:"service_name" env:"TRYON_SERVICE_NAME"`
}

// Load reads and parses a YAML configuration file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ParseEnv overlays TRYON_* environment variables onto target.
// Unset variables leave the existing value alone.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// StartTimeout bounds the wait for the capture pipeline to reach PLAYING.
func (c CameraConfig) StartTimeout() time.Duration { return ms(c.StartTimeoutMS) }

// PlaybackTimeout bounds the wait for the first frames.
func (c CameraConfig) PlaybackTimeout() time.Duration { return ms(c.PlaybackTimeoutMS) }

// TickInterval is the render loop period.
func (c RenderConfig) TickInterval() time.Duration { return time.Second / time.Duration(c.FPS) }

// InitTimeout bounds the detector worker handshake.
func (c DetectorConfig) InitTimeout() time.Duration { return ms(c.InitTimeoutMS) }

// DetectTimeout bounds one detection.
func (c DetectorConfig) DetectTimeout() time.Duration { return ms(c.DetectTimeoutMS) }

// FetchTimeout bounds one model asset download.
func (c ModelsConfig) FetchTimeout() time.Duration { return ms(c.FetchTimeoutMS) }
