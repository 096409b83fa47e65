package config

import (
	"fmt"
	"regexp"
	"strings"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Detector backends.
const (
	BackendSynthetic = "synthetic"
	BackendPython    = "python"
)

// Validate checks if the configuration is valid and fills defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateRender(&cfg.Render); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := validateDetector(&cfg.Detector); err != nil {
		return fmt.Errorf("detector: %w", err)
	}

	if cfg.Models.FetchTimeoutMS <= 0 {
		cfg.Models.FetchTimeoutMS = 10000
	}
	if cfg.Models.MaxBytes <= 0 {
		cfg.Models.MaxBytes = 32 << 20
	}

	if err := validateSnapshots(&cfg.Snapshots); err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("tryon/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.State == "" {
		cfg.MQTT.Topics.State = fmt.Sprintf("tryon/state/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("tryon/status/%s", cfg.InstanceID)
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "tryond"
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("width and height must be >= 0")
	}
	if (c.Width == 0) != (c.Height == 0) {
		return fmt.Errorf("width and height must be set together")
	}
	if c.Width == 0 {
		c.Width, c.Height = 1280, 720
	}
	if c.StartTimeoutMS <= 0 {
		c.StartTimeoutMS = 5000
	}
	if c.PlaybackTimeoutMS <= 0 {
		c.PlaybackTimeoutMS = 5000
	}
	return nil
}

func validateRender(r *RenderConfig) error {
	if r.FPS < 0 || r.FPS > 120 {
		return fmt.Errorf("fps must be between 1 and 120, got %d", r.FPS)
	}
	if r.FPS == 0 {
		r.FPS = 30
	}
	if r.PixelRatio < 0 {
		return fmt.Errorf("pixel_ratio must be > 0")
	}
	if r.PixelRatio == 0 {
		r.PixelRatio = 1
	}
	if r.CameraDistance <= 0 {
		r.CameraDistance = 2
	}
	return nil
}

func validateDetector(d *DetectorConfig) error {
	d.Backend = strings.ToLower(strings.TrimSpace(d.Backend))
	switch d.Backend {
	case "":
		d.Backend = BackendSynthetic
	case BackendSynthetic:
	case BackendPython:
		if d.Command == "" {
			return fmt.Errorf("command is required for the python backend")
		}
	default:
		return fmt.Errorf("unknown backend '%s' (must be 'synthetic' or 'python')", d.Backend)
	}
	if d.InitTimeoutMS <= 0 {
		d.InitTimeoutMS = 10000
	}
	if d.DetectTimeoutMS <= 0 {
		d.DetectTimeoutMS = 200
	}
	return nil
}

func validateSnapshots(s *SnapshotsConfig) error {
	switch s.Format {
	case "":
		s.Format = "png"
	case "png", "jpeg":
	default:
		return fmt.Errorf("unknown format '%s' (must be 'png' or 'jpeg')", s.Format)
	}
	if s.JPEGQuality < 0 || s.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100")
	}
	if s.JPEGQuality == 0 {
		s.JPEGQuality = 90
	}
	return nil
}
