// Package config loads the voicegate server configuration from a YAML
// file. Every section has a working default; a missing file yields a
// usable in-memory development configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/echoear/voicegate/pkg/provider"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Path is the WebSocket endpoint path devices connect to.
	Path string `yaml:"path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Audio     Audio           `yaml:"audio"`
	Providers provider.Config `yaml:"providers"`
	Meeting   Meeting         `yaml:"meeting"`
}

// Audio pins the PCM parameters negotiated with devices.
type Audio struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FrameDurationMS int `yaml:"frame_duration_ms"`

	// MaxUtteranceSeconds bounds one utterance capture.
	MaxUtteranceSeconds int `yaml:"max_utterance_seconds"`

	// MaxMeetingMinutes bounds the meeting accumulation buffer.
	MaxMeetingMinutes int `yaml:"max_meeting_minutes"`
}

// Meeting configures the meeting pipeline and its storage.
type Meeting struct {
	// SegmentSeconds is the transcription segment window.
	SegmentSeconds int `yaml:"segment_seconds"`

	// Concurrency bounds parallel segment transcription.
	Concurrency int `yaml:"concurrency"`

	// DataDir is the badger directory for meeting records. Empty selects
	// the in-memory store.
	DataDir string `yaml:"data_dir"`

	Archive Archive `yaml:"archive"`

	// PushURL, when set, receives the finished meeting document as a
	// JSON POST.
	PushURL   string `yaml:"push_url"`
	PushToken string `yaml:"push_token"`

	// CallTimeoutSeconds bounds one provider call.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
}

// Archive configures audio archival. Type selects the backend: "" for
// none, "local" for a directory, "s3" for an object store.
type Archive struct {
	Type string `yaml:"type"`

	// Root is the local archive directory (type=local).
	Root string `yaml:"root"`

	// S3 settings (type=s3).
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		Listen:   ":8090",
		Path:     "/ws",
		LogLevel: "info",
		Audio: Audio{
			SampleRate:        16000,
			Channels:          1,
			FrameDurationMS:   60,
			MaxMeetingMinutes: 120,
		},
		Meeting: Meeting{
			SegmentSeconds: 25,
			Concurrency:    3,
		},
	}
}

// Load reads the configuration file at path. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		return fmt.Errorf("config: invalid audio format %d Hz x%d", c.Audio.SampleRate, c.Audio.Channels)
	}
	if c.Audio.FrameDurationMS <= 0 {
		return fmt.Errorf("config: invalid frame duration %dms", c.Audio.FrameDurationMS)
	}
	if c.Path == "" {
		return fmt.Errorf("config: path must not be empty")
	}
	switch c.Meeting.Archive.Type {
	case "", "local", "s3":
	default:
		return fmt.Errorf("config: unknown archive type %q", c.Meeting.Archive.Type)
	}
	if c.Meeting.Archive.Type == "s3" && c.Meeting.Archive.Bucket == "" {
		return fmt.Errorf("config: s3 archive requires a bucket")
	}
	return nil
}

// FrameDuration returns the frame length as a duration.
func (a Audio) FrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMS) * time.Millisecond
}
