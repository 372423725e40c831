package ingest

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GOLIVE_RTMP_URL", "rtmp://media:1935/live")
	t.Setenv("GOLIVE_FFMPEG_PATH", "/usr/local/bin/ffmpeg")
	t.Setenv("GOLIVE_INGEST_INPUT_FORMAT", "matroska")
	t.Setenv("GOLIVE_INGEST_STOP_TIMEOUT", "30s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RTMPBaseURL != "rtmp://media:1935/live" {
		t.Errorf("rtmp url: %q", cfg.RTMPBaseURL)
	}
	if cfg.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Errorf("ffmpeg path: %q", cfg.FFmpegPath)
	}
	if cfg.InputFormat != "matroska" {
		t.Errorf("input format: %q", cfg.InputFormat)
	}
	if cfg.StopTimeout != 30*time.Second {
		t.Errorf("stop timeout: %s", cfg.StopTimeout)
	}
	if cfg.VideoBitrateKbps != 2500 || cfg.AudioBitrateKbps != 128 {
		t.Errorf("bitrate defaults: %d/%d", cfg.VideoBitrateKbps, cfg.AudioBitrateKbps)
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("GOLIVE_RTMP_URL", "rtmp://localhost:1935/live")
	t.Setenv("GOLIVE_FFMPEG_PATH", "")
	t.Setenv("GOLIVE_INGEST_INPUT_FORMAT", "")
	t.Setenv("GOLIVE_INGEST_STOP_TIMEOUT", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("ffmpeg default: %q", cfg.FFmpegPath)
	}
	if cfg.InputFormat != "webm" {
		t.Errorf("input format default: %q", cfg.InputFormat)
	}
	if cfg.StopTimeout != 10*time.Second {
		t.Errorf("stop timeout default: %s", cfg.StopTimeout)
	}
	if cfg.FrameRate != 30 || cfg.KeyframeInterval != 30 {
		t.Errorf("frame defaults: %d/%d", cfg.FrameRate, cfg.KeyframeInterval)
	}
}

func TestLoadConfigFromEnvRejectsBadTimeout(t *testing.T) {
	t.Setenv("GOLIVE_RTMP_URL", "rtmp://localhost:1935/live")
	t.Setenv("GOLIVE_INGEST_STOP_TIMEOUT", "soon")

	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for unparsable timeout")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("expected error for missing rtmp url")
	}
	if err := (Config{RTMPBaseURL: "http://localhost/live"}).Validate(); err == nil {
		t.Fatal("expected error for non-rtmp url")
	}
	if err := (Config{RTMPBaseURL: "rtmp://localhost:1935/live"}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestPublishURL(t *testing.T) {
	cfg := Config{RTMPBaseURL: "rtmp://localhost:1935/live/"}
	if got := cfg.PublishURL("abc123"); got != "rtmp://localhost:1935/live/abc123" {
		t.Fatalf("publish url: %q", got)
	}
}
