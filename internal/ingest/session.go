package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/catalog"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/media/encoder"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
)

// mediaEncoder is the slice of encoder.Handle a session drives. Factored out
// so tests can substitute a fake process.
type mediaEncoder interface {
	Start(ctx context.Context) error
	Write(p []byte) error
	Stop(ctx context.Context) error
	State() encoder.State
	Done() <-chan struct{}
	Err() error
}

type encoderFactory func(opts encoder.Options, logger *slog.Logger) mediaEncoder

func defaultEncoderFactory(opts encoder.Options, logger *slog.Logger) mediaEncoder {
	return encoder.New(opts, logger)
}

// Session relays one publisher's media chunks into an RTMP contribution
// encode. The ffmpeg process is started lazily on the first chunk, and if it
// dies mid-stream the next chunk spawns a replacement.
type Session struct {
	id      string
	user    catalog.User
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	factory encoderFactory

	mu         sync.Mutex
	enc        mediaEncoder
	everRan    bool
	terminated bool
}

func newSession(user catalog.User, cfg Config, logger *slog.Logger, recorder *metrics.Recorder, factory encoderFactory) *Session {
	if factory == nil {
		factory = defaultEncoderFactory
	}
	id := newSessionID()
	return &Session{
		id:      id,
		user:    user,
		cfg:     cfg,
		logger:  logger.With("session_id", id, "stream_key", user.StreamKey),
		metrics: recorder,
		factory: factory,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// User returns the publisher this session belongs to.
func (s *Session) User() catalog.User {
	return s.user
}

// Write relays one media chunk to the encoder, spawning it first if needed.
func (s *Session) Write(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return encoder.ErrTerminated
	}
	if s.enc != nil && isTerminal(s.enc.State()) {
		// The process died under us. Drop the handle so this chunk
		// starts a fresh one.
		s.logger.Warn("encoder died mid-stream, restarting", "error", s.enc.Err())
		if s.metrics != nil {
			s.metrics.EncoderRestarted()
		}
		s.enc = nil
	}
	if s.enc == nil {
		enc := s.factory(s.encoderOptions(), s.logger)
		if err := enc.Start(ctx); err != nil {
			return fmt.Errorf("start encoder: %w", err)
		}
		s.enc = enc
		s.everRan = true
		s.logger.Info("encoder started", "target", s.cfg.PublishURL(s.user.StreamKey))
	}
	return s.enc.Write(chunk)
}

// Stop gracefully terminates the encoder. It is idempotent.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	s.terminated = true
	enc := s.enc
	s.mu.Unlock()

	if enc == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	if err := enc.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop encoder: %w", err)
	}
	return enc.Err()
}

func (s *Session) encoderOptions() encoder.Options {
	return encoder.Options{
		FFmpegPath:       s.cfg.FFmpegPath,
		Input:            "pipe:0",
		InputFormat:      s.cfg.InputFormat,
		VideoCodec:       "libx264",
		AudioCodec:       "aac",
		Preset:           "veryfast",
		VideoBitrateKbps: s.cfg.VideoBitrateKbps,
		AudioBitrateKbps: s.cfg.AudioBitrateKbps,
		KeyframeInterval: s.cfg.KeyframeInterval,
		FrameRate:        s.cfg.FrameRate,
		OutputFormat:     "flv",
		Output:           s.cfg.PublishURL(s.user.StreamKey),
	}
}

func isTerminal(state encoder.State) bool {
	return state == encoder.StateCompleted || state == encoder.StateFailed
}

func newSessionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "session"
	}
	return hex.EncodeToString(buf)
}
