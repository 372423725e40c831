package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/catalog"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/media/encoder"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/media/probe"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
)

const (
	defaultWorkers        = 2
	defaultJobTimeout     = 30 * time.Minute
	defaultThumbnailCount = 4
)

// VideoStore is the slice of the catalog the pipeline needs.
type VideoStore interface {
	SaveVideo(video catalog.Video) (catalog.Video, error)
}

// ProbeFunc inspects a source file. EncodeFunc produces one rendition playlist.
// ThumbnailFunc captures a single frame at the given offset.
type (
	ProbeFunc     func(ctx context.Context, path string) (probe.SourceMetadata, error)
	EncodeFunc    func(ctx context.Context, sourcePath string, rendition Rendition, playlistPath, segmentPattern string) error
	ThumbnailFunc func(ctx context.Context, sourcePath string, offsetSeconds float64, outputPath string) error
)

// PipelineConfig wires the pipeline's collaborators. Queue and Catalog are
// required; the exec-backed defaults are used for any nil function.
type PipelineConfig struct {
	Queue          Queue
	Catalog        VideoStore
	OutputDir      string
	PublicBaseURL  string
	FFmpegPath     string
	FFprobePath    string
	Workers        int
	JobTimeout     time.Duration
	ThumbnailCount int
	Logger         *slog.Logger
	Metrics        *metrics.Recorder

	Probe     ProbeFunc
	Encode    EncodeFunc
	Thumbnail ThumbnailFunc

	// randFloat overrides thumbnail offset selection in tests.
	randFloat func() float64
}

// Pipeline drains the job queue with a bounded worker pool and runs the full
// post-processing sequence for each recording: probe, thumbnails, rendition
// encodes, master manifest, catalog record, then source deletion.
type Pipeline struct {
	cfg PipelineConfig

	mu       sync.Mutex
	jobs     map[string]Job
	inFlight map[string]struct{}
	started  bool
	closed   bool

	sub  Subscription
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewPipeline validates the configuration and fills defaults.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, errors.New("output dir is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.ThumbnailCount <= 0 {
		cfg.ThumbnailCount = defaultThumbnailCount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	p := &Pipeline{
		cfg:      cfg,
		jobs:     make(map[string]Job),
		inFlight: make(map[string]struct{}),
	}
	if p.cfg.Probe == nil {
		prober := probe.New(cfg.FFprobePath)
		p.cfg.Probe = prober.Probe
	}
	if p.cfg.Encode == nil {
		p.cfg.Encode = p.encodeRendition
	}
	if p.cfg.Thumbnail == nil {
		p.cfg.Thumbnail = p.captureThumbnail
	}
	if p.cfg.randFloat == nil {
		p.cfg.randFloat = rand.Float64
	}
	return p, nil
}

// Start launches the worker pool. It may be called once.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipeline already started")
	}
	p.started = true
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	p.sub = p.cfg.Queue.Subscribe()
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return nil
}

// Shutdown stops accepting jobs and waits for in-flight work, bounded by ctx.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sub := p.sub
	stop := p.stop
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if stop != nil {
		stop()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueSource publishes a new job for the recording at sourcePath.
func (p *Pipeline) EnqueueSource(ctx context.Context, sourceName, sourcePath string) (Job, error) {
	job, err := NewJob(sourceName, sourcePath)
	if err != nil {
		return Job{}, err
	}
	if err := p.cfg.Queue.Publish(ctx, job); err != nil {
		return Job{}, fmt.Errorf("publish job: %w", err)
	}
	p.track(job)
	return job, nil
}

// Snapshot returns the known jobs, most recent first.
func (p *Pipeline) Snapshot() []Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := make([]Job, 0, len(p.jobs))
	for _, job := range p.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.sub.Jobs():
			if !ok {
				return
			}
			if !p.beginWork(job) {
				continue
			}
			p.runJob(ctx, job)
		}
	}
}

// beginWork claims a job ID. A duplicate delivery is dropped here rather than
// processed twice.
func (p *Pipeline) beginWork(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[job.ID]; busy {
		return false
	}
	p.inFlight[job.ID] = struct{}{}
	job.Status = StatusRunning
	p.jobs[job.ID] = job
	return true
}

func (p *Pipeline) finishWork(job Job, runErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, job.ID)
	if runErr != nil {
		job.Status = StatusFailed
		job.Error = runErr.Error()
	} else {
		job.Status = StatusCompleted
		job.Error = ""
	}
	p.jobs[job.ID] = job
}

func (p *Pipeline) track(job Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[job.ID] = job
}

func (p *Pipeline) runJob(ctx context.Context, job Job) {
	logger := p.cfg.Logger.With("job_id", job.ID, "source", job.SourceName)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.TranscodeJobStarted()
	}
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	start := time.Now()
	err := p.process(jobCtx, job, logger)
	cancel()
	p.finishWork(job, err)
	if err != nil {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.TranscodeJobFailed()
		}
		logger.Error("transcode job failed", "error", err, "elapsed", time.Since(start).String())
		return
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.TranscodeJobCompleted()
	}
	logger.Info("transcode job completed", "elapsed", time.Since(start).String())
}

func (p *Pipeline) process(ctx context.Context, job Job, logger *slog.Logger) error {
	if _, err := os.Stat(job.SourcePath); err != nil {
		return fmt.Errorf("source unavailable: %w", err)
	}

	meta, err := p.cfg.Probe(ctx, job.SourcePath)
	if err != nil {
		return fmt.Errorf("probe source: %w", err)
	}
	logger.Info("source probed",
		"duration_seconds", meta.DurationSeconds,
		"size_bytes", meta.SizeBytes,
		"resolution", fmt.Sprintf("%dx%d", meta.Width, meta.Height),
		"codec", meta.VideoCodec)

	base := sanitizeName(job.SourceName)
	workDir := filepath.Join(p.cfg.OutputDir, base)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	thumbnails, err := p.makeThumbnails(ctx, job.SourcePath, meta.DurationSeconds, workDir, base)
	if err != nil {
		return err
	}

	ladder := Ladder(meta.Height)
	outputs := make([]RenditionOutput, len(ladder))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, rendition := range ladder {
		i, rendition := i, rendition
		group.Go(func() error {
			playlistName := fmt.Sprintf("%s_%s.m3u8", base, rendition.Label)
			segmentPattern := filepath.Join(workDir, fmt.Sprintf("%s_%s_%%03d.ts", base, rendition.Label))
			playlistPath := filepath.Join(workDir, playlistName)
			if err := p.cfg.Encode(groupCtx, job.SourcePath, rendition, playlistPath, segmentPattern); err != nil {
				return fmt.Errorf("encode %s: %w", rendition.Label, err)
			}
			outputs[i] = RenditionOutput{Rendition: rendition, PlaylistURL: playlistName}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	masterName := base + "_master.m3u8"
	masterPath := filepath.Join(workDir, masterName)
	if err := WriteMasterPlaylist(masterPath, outputs); err != nil {
		return err
	}

	renditionURLs := make([]string, len(outputs))
	for i, out := range outputs {
		renditionURLs[i] = p.publicURL(base, out.PlaylistURL)
	}
	thumbnailURLs := make([]string, len(thumbnails))
	for i, name := range thumbnails {
		thumbnailURLs[i] = p.publicURL(base, name)
	}

	video := catalog.Video{
		Name:              job.SourceName,
		DurationSeconds:   meta.DurationSeconds,
		SizeBytes:         meta.SizeBytes,
		Width:             meta.Width,
		Height:            meta.Height,
		VideoCodec:        meta.VideoCodec,
		MasterPlaylistURL: p.publicURL(base, masterName),
		RenditionURLs:     renditionURLs,
		Thumbnails:        thumbnailURLs,
	}
	if _, err := p.cfg.Catalog.SaveVideo(video); err != nil {
		return fmt.Errorf("save video: %w", err)
	}

	// The source is deleted only after the catalog write succeeds.
	if err := os.Remove(job.SourcePath); err != nil {
		logger.Warn("remove source failed", "error", err)
	}
	return nil
}

func (p *Pipeline) makeThumbnails(ctx context.Context, sourcePath string, durationSeconds float64, workDir, base string) ([]string, error) {
	names := make([]string, 0, p.cfg.ThumbnailCount)
	for i := 0; i < p.cfg.ThumbnailCount; i++ {
		offset := p.cfg.randFloat() * durationSeconds
		name := fmt.Sprintf("%s_thumb_%02d.jpg", base, i+1)
		outputPath := filepath.Join(workDir, name)
		if err := p.cfg.Thumbnail(ctx, sourcePath, offset, outputPath); err != nil {
			return nil, fmt.Errorf("thumbnail %d: %w", i+1, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func (p *Pipeline) encodeRendition(ctx context.Context, sourcePath string, rendition Rendition, playlistPath, segmentPattern string) error {
	opts := encoder.Options{
		FFmpegPath:       p.cfg.FFmpegPath,
		Input:            sourcePath,
		VideoCodec:       "libx264",
		AudioCodec:       "aac",
		Preset:           "veryfast",
		VideoBitrateKbps: rendition.BitrateKbps,
		AudioBitrateKbps: 128,
		Size:             rendition.Resolution(),
		OutputFormat:     "hls",
		ExtraOutput: []string{
			"-hls_time", "5",
			"-hls_list_size", "0",
			"-hls_segment_filename", segmentPattern,
			"-y",
		},
		Output: playlistPath,
	}
	return encoder.Run(ctx, opts, p.cfg.Logger.With("rendition", rendition.Label))
}

func (p *Pipeline) captureThumbnail(ctx context.Context, sourcePath string, offsetSeconds float64, outputPath string) error {
	cmd := exec.CommandContext(ctx, p.cfg.FFmpegPath,
		"-ss", fmt.Sprintf("%.3f", offsetSeconds),
		"-i", sourcePath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (p *Pipeline) publicURL(parts ...string) string {
	return joinURL(append([]string{p.cfg.PublicBaseURL}, parts...)...)
}

func joinURL(parts ...string) string {
	rooted := len(parts) > 0 && strings.HasPrefix(parts[0], "/")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, "/")
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	joined := strings.Join(cleaned, "/")
	if rooted {
		return "/" + joined
	}
	return joined
}

func sanitizeName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "recording"
	}
	return b.String()
}
