package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"reflect"
	"testing"
	"time"
)

func TestOptionsArgs(t *testing.T) {
	opts := Options{
		Input:            "pipe:0",
		InputFormat:      "webm",
		VideoCodec:       "libx264",
		AudioCodec:       "aac",
		VideoBitrateKbps: 2500,
		AudioBitrateKbps: 128,
		Preset:           "veryfast",
		KeyframeInterval: 30,
		FrameRate:        30,
		Size:             "1280x720",
		OutputFormat:     "flv",
		ExtraOutput:      []string{"-y"},
		Output:           "rtmp://localhost/live/key",
	}

	expected := []string{
		"-f", "webm",
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "veryfast",
		"-b:v", "2500k",
		"-b:a", "128k",
		"-g", "30",
		"-r", "30",
		"-s", "1280x720",
		"-f", "flv",
		"-y",
		"rtmp://localhost/live/key",
	}

	if got := opts.Args(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("unexpected args:\ngot  %v\nwant %v", got, expected)
	}
}

func TestOptionsArgsMinimal(t *testing.T) {
	opts := Options{Input: "in.webm", Output: "out.m3u8"}
	expected := []string{"-i", "in.webm", "out.m3u8"}
	if got := opts.Args(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("unexpected args: got %v want %v", got, expected)
	}
}

func TestWriteBuffersBeforeStart(t *testing.T) {
	h := New(Options{Input: "pipe:0"}, nil)

	chunk := []byte("chunk-a")
	if err := h.Write(chunk); err != nil {
		t.Fatalf("write before start: %v", err)
	}
	// The handle must own its copy; mutating the caller's slice is not
	// allowed to corrupt the pending buffer.
	chunk[0] = 'x'

	if err := h.Write([]byte("chunk-b")); err != nil {
		t.Fatalf("second write before start: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) != 2 {
		t.Fatalf("expected 2 buffered chunks, got %d", len(h.pending))
	}
	if string(h.pending[0]) != "chunk-a" {
		t.Fatalf("buffered chunk was aliased: %q", h.pending[0])
	}
}

func TestStopOnIdleCompletes(t *testing.T) {
	h := New(Options{Input: "pipe:0"}, nil)

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("stop idle handle: %v", err)
	}
	if state := h.State(); state != StateCompleted {
		t.Fatalf("expected completed state, got %s", state)
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after stop")
	}

	// Repeated stops are no-ops.
	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if err := h.Write([]byte("late")); !errors.Is(err, ErrTerminated) {
		t.Fatalf("expected ErrTerminated after stop, got %v", err)
	}
}

func TestStartMissingBinaryFails(t *testing.T) {
	h := New(Options{FFmpegPath: "/nonexistent/ffmpeg", Input: "pipe:0", Output: "rtmp://x/y"}, nil)

	if err := h.Start(context.Background()); err == nil {
		t.Fatal("expected start error for missing binary")
	}
	if state := h.State(); state != StateFailed {
		t.Fatalf("expected failed state, got %s", state)
	}
	if h.Err() == nil {
		t.Fatal("expected terminal error")
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after failed start")
	}

	if err := h.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:      "idle",
		StateRunning:   "running",
		StateStopping:  "stopping",
		StateCompleted: "completed",
		StateFailed:    "failed",
		State(99):      "unknown",
	}
	for state, expected := range cases {
		if got := state.String(); got != expected {
			t.Errorf("State(%d).String() = %q, want %q", state, got, expected)
		}
	}
}

func TestIsSignalExit(t *testing.T) {
	if isSignalExit(errors.New("plain error")) {
		t.Fatal("plain errors must not count as signal exits")
	}

	err := exec.Command("false").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError from false, got %v", err)
	}
	if !isSignalExit(err) {
		t.Fatal("nonzero exit after a requested stop should count as deliberate")
	}
}

func TestLogWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := newLogWriter(logger, "stderr")

	input := []byte("frame=  10\n\nframe=  20\npartial")
	n, err := w.Write(input)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(input) {
		t.Fatalf("short write: got %d want %d", n, len(input))
	}

	var lines []string
	decoder := json.NewDecoder(&buf)
	for decoder.More() {
		var payload map[string]any
		if err := decoder.Decode(&payload); err != nil {
			t.Fatalf("decode log entry: %v", err)
		}
		line, _ := payload["line"].(string)
		lines = append(lines, line)
		if payload["stream"] != "stderr" {
			t.Fatalf("unexpected stream label: %v", payload["stream"])
		}
	}

	expected := []string{"frame=  10", "frame=  20", "partial"}
	if !reflect.DeepEqual(lines, expected) {
		t.Fatalf("unexpected log lines: got %v want %v", lines, expected)
	}
}
