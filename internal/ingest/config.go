package ingest

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config stores connectivity information for the browser ingest path.
type Config struct {
	// RTMPBaseURL is the publish target, e.g. rtmp://localhost:1935/live.
	// The stream key is appended per session.
	RTMPBaseURL string
	FFmpegPath  string
	// InputFormat names the container browsers deliver, webm by default.
	InputFormat string
	// StopTimeout bounds how long a graceful encoder stop may take before
	// the process is killed.
	StopTimeout time.Duration
	// VideoBitrateKbps, AudioBitrateKbps, FrameRate and KeyframeInterval
	// shape the RTMP contribution encode.
	VideoBitrateKbps int
	AudioBitrateKbps int
	FrameRate        int
	KeyframeInterval int
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		RTMPBaseURL:      strings.TrimSpace(os.Getenv("GOLIVE_RTMP_URL")),
		FFmpegPath:       strings.TrimSpace(os.Getenv("GOLIVE_FFMPEG_PATH")),
		InputFormat:      strings.TrimSpace(os.Getenv("GOLIVE_INGEST_INPUT_FORMAT")),
		StopTimeout:      10 * time.Second,
		VideoBitrateKbps: 2500,
		AudioBitrateKbps: 128,
		FrameRate:        30,
		KeyframeInterval: 30,
	}

	if timeout := strings.TrimSpace(os.Getenv("GOLIVE_INGEST_STOP_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse GOLIVE_INGEST_STOP_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.StopTimeout = parsed
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "webm"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.VideoBitrateKbps <= 0 {
		c.VideoBitrateKbps = 2500
	}
	if c.AudioBitrateKbps <= 0 {
		c.AudioBitrateKbps = 128
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if c.KeyframeInterval <= 0 {
		c.KeyframeInterval = 30
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RTMPBaseURL) == "" {
		return errors.New("GOLIVE_RTMP_URL is required")
	}
	if !strings.HasPrefix(c.RTMPBaseURL, "rtmp://") {
		return fmt.Errorf("GOLIVE_RTMP_URL must be an rtmp:// URL, got %q", c.RTMPBaseURL)
	}
	return nil
}

// PublishURL returns the full RTMP target for a stream key.
func (c Config) PublishURL(streamKey string) string {
	return strings.TrimRight(c.RTMPBaseURL, "/") + "/" + streamKey
}
