package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoVideoStream is returned when the source contains no video stream.
// Callers treat it as fatal for the affected source.
var ErrNoVideoStream = errors.New("source has no video stream")

// SourceMetadata captures the subset of ffprobe output the pipeline needs.
type SourceMetadata struct {
	SizeBytes       int64
	DurationSeconds float64
	Width           int
	Height          int
	VideoCodec      string
}

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober shells out to ffprobe to inspect media files.
type Prober struct {
	ffprobePath string
	run         runner
}

// New returns a prober using the given ffprobe binary. An empty path falls
// back to "ffprobe" on PATH.
func New(ffprobePath string) *Prober {
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{
		ffprobePath: ffprobePath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// NewWithRunner returns a prober whose process execution is replaced, for
// tests that must not shell out.
func NewWithRunner(run func(ctx context.Context, name string, args ...string) ([]byte, error)) *Prober {
	p := New("")
	p.run = run
	return p
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe inspects the file at path and returns its metadata. A source without
// a video stream yields ErrNoVideoStream.
func (p *Prober) Probe(ctx context.Context, path string) (SourceMetadata, error) {
	if strings.TrimSpace(path) == "" {
		return SourceMetadata{}, fmt.Errorf("probe path is required")
	}
	out, err := p.run(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return SourceMetadata{}, fmt.Errorf("run ffprobe: %w", err)
	}

	var decoded ffprobeOutput
	if err := json.Unmarshal(out, &decoded); err != nil {
		return SourceMetadata{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	meta := SourceMetadata{}
	if decoded.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(decoded.Format.Duration, 64); err == nil {
			meta.DurationSeconds = seconds
		}
	}
	if decoded.Format.Size != "" {
		if size, err := strconv.ParseInt(decoded.Format.Size, 10, 64); err == nil {
			meta.SizeBytes = size
		}
	}

	for _, stream := range decoded.Streams {
		if stream.CodecType != "video" {
			continue
		}
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.VideoCodec = stream.CodecName
		return meta, nil
	}
	return SourceMetadata{}, ErrNoVideoStream
}
