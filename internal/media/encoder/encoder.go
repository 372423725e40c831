package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// State describes the lifecycle position of an encoder handle. A handle moves
// strictly forward: idle, running, stopping, then completed or failed.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("encoder already started")
	// ErrTerminated is returned when writing to a handle in a terminal state.
	ErrTerminated = errors.New("encoder terminated")
)

// Options describes one ffmpeg invocation. Args builds the argv
// deterministically so tests can assert on the exact command line.
type Options struct {
	FFmpegPath string
	// Input is the source: a file path, a URL, or "pipe:0" for stdin feeds.
	Input       string
	InputFormat string
	VideoCodec  string
	AudioCodec  string
	// VideoBitrateKbps and AudioBitrateKbps are emitted as -b:v / -b:a.
	VideoBitrateKbps int
	AudioBitrateKbps int
	Preset           string
	KeyframeInterval int
	FrameRate        int
	// Size is emitted as -s when set, e.g. "1280x720".
	Size string
	// OutputFormat selects the muxer, e.g. "flv" or "hls".
	OutputFormat string
	// ExtraOutput is appended verbatim before the output target.
	ExtraOutput []string
	Output      string
}

// Args renders the ffmpeg argument list for the configured options.
func (o Options) Args() []string {
	args := make([]string, 0, 24)
	if o.InputFormat != "" {
		args = append(args, "-f", o.InputFormat)
	}
	args = append(args, "-i", o.Input)
	if o.VideoCodec != "" {
		args = append(args, "-c:v", o.VideoCodec)
	}
	if o.AudioCodec != "" {
		args = append(args, "-c:a", o.AudioCodec)
	}
	if o.Preset != "" {
		args = append(args, "-preset", o.Preset)
	}
	if o.VideoBitrateKbps > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", o.VideoBitrateKbps))
	}
	if o.AudioBitrateKbps > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", o.AudioBitrateKbps))
	}
	if o.KeyframeInterval > 0 {
		args = append(args, "-g", strconv.Itoa(o.KeyframeInterval))
	}
	if o.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(o.FrameRate))
	}
	if o.Size != "" {
		args = append(args, "-s", o.Size)
	}
	if o.OutputFormat != "" {
		args = append(args, "-f", o.OutputFormat)
	}
	args = append(args, o.ExtraOutput...)
	args = append(args, o.Output)
	return args
}

func (o Options) ffmpeg() string {
	if strings.TrimSpace(o.FFmpegPath) != "" {
		return o.FFmpegPath
	}
	return "ffmpeg"
}

func (o Options) usesStdin() bool {
	return strings.HasPrefix(o.Input, "pipe:")
}

// Handle wraps exactly one ffmpeg process. Writes are accepted before Start
// and buffered until the process is running. Stop requests a graceful exit
// via SIGINT; an exit caused by a requested stop is not treated as a failure.
type Handle struct {
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	pending       [][]byte
	stopRequested bool
	err           error
	done          chan struct{}
}

// New prepares a handle without starting the process.
func New(opts Options, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		opts:   opts,
		logger: logger,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error, nil while running or after a clean exit.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Start spawns the ffmpeg process and flushes any buffered writes into its
// stdin. Starting a handle twice is an error.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateIdle {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(h.opts.ffmpeg(), h.opts.Args()...)
	cmd.Stdout = newLogWriter(h.logger, "stdout")
	cmd.Stderr = newLogWriter(h.logger, "stderr")

	var stdin io.WriteCloser
	if h.opts.usesStdin() {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("open encoder stdin: %w", err)
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		h.state = StateFailed
		h.err = fmt.Errorf("start ffmpeg: %w", err)
		close(h.done)
		return h.err
	}
	if ctx != nil && ctx.Err() != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		h.state = StateFailed
		h.err = ctx.Err()
		close(h.done)
		return h.err
	}

	h.cmd = cmd
	h.stdin = stdin
	h.state = StateRunning

	if stdin != nil {
		for _, chunk := range h.pending {
			if _, err := stdin.Write(chunk); err != nil {
				h.logger.Warn("flush buffered chunk failed", "error", err)
				break
			}
		}
		h.pending = nil
	}

	go h.wait()
	return nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	stopRequested := h.stopRequested
	if err == nil {
		h.state = StateCompleted
	} else if stopRequested && isSignalExit(err) {
		// The exit was asked for; not a failure.
		h.state = StateCompleted
	} else {
		h.state = StateFailed
		h.err = fmt.Errorf("ffmpeg exited: %w", err)
	}
	state := h.state
	terminalErr := h.err
	h.mu.Unlock()

	if terminalErr != nil {
		h.logger.Error("encoder exited", "state", state.String(), "error", terminalErr)
	} else {
		h.logger.Info("encoder exited", "state", state.String())
	}
	close(h.done)
}

// Write feeds a media chunk to the encoder in FIFO order. Chunks written
// before Start are buffered and flushed once the process is running.
func (h *Handle) Write(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateIdle:
		buf := make([]byte, len(p))
		copy(buf, p)
		h.pending = append(h.pending, buf)
		return nil
	case StateRunning:
		if h.stdin == nil {
			return fmt.Errorf("encoder input is not a byte sink")
		}
		if _, err := h.stdin.Write(p); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
		return nil
	default:
		return ErrTerminated
	}
}

// Stop requests a graceful shutdown and waits for the process to exit. It is
// idempotent: concurrent and repeated stops wait on the same completion. If
// the context expires before ffmpeg exits, the process is killed.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateIdle:
		// Never started; nothing to terminate.
		h.state = StateCompleted
		h.stopRequested = true
		close(h.done)
		h.mu.Unlock()
		return nil
	case StateRunning:
		h.state = StateStopping
		h.stopRequested = true
		if h.stdin != nil {
			_ = h.stdin.Close()
		}
		if err := h.cmd.Process.Signal(syscall.SIGINT); err != nil {
			h.logger.Warn("signal encoder failed", "error", err)
		}
	case StateStopping:
		// A stop is already in flight; fall through to wait.
	default:
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
	}

	h.mu.Lock()
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	h.mu.Unlock()
	<-h.done
	return ctx.Err()
}

// Run starts the encoder and blocks until the process exits on its own. It is
// intended for finite file-to-file encodes.
func Run(ctx context.Context, opts Options, logger *slog.Logger) error {
	h := New(opts, logger)
	if err := h.Start(ctx); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		_ = h.Stop(context.Background())
		if err := h.Err(); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func isSignalExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return true
	}
	// ffmpeg often exits with a nonzero code rather than dying on the
	// signal; once a stop was requested any exit counts as deliberate.
	return true
}

type logWriter struct {
	logger *slog.Logger
	stream string
}

func newLogWriter(logger *slog.Logger, stream string) *logWriter {
	return &logWriter{logger: logger, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("ffmpeg", "stream", w.stream, "line", string(line))
	}
	return total, nil
}

// WaitTimeout bounds how long callers should allow for a graceful stop before
// escalating. Exposed so callers share one default.
const WaitTimeout = 15 * time.Second
