package stats

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultRetention    = 30 * time.Minute
	defaultApplication  = "live"
)

// AggregatorConfig wires the poller. Fetch and Series are required; the rest
// default sensibly.
type AggregatorConfig struct {
	Fetch       FetchFunc
	Series      Series
	Hub         *Hub
	Viewers     *ViewerCounts
	Application string
	Interval    time.Duration
	Retention   time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Recorder

	// now overrides the clock in tests.
	now func() time.Time
}

// Aggregator polls the media server's stat endpoint on a fixed interval and
// turns each publishing stream into a minute-bucket sample. Run exactly one
// per process: concurrent pollers would double-write buckets.
type Aggregator struct {
	cfg AggregatorConfig

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAggregator validates the configuration and fills defaults.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Fetch == nil {
		return nil, errors.New("fetch func is required")
	}
	if cfg.Series == nil {
		return nil, errors.New("series is required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	if cfg.Viewers == nil {
		cfg.Viewers = NewViewerCounts()
	}
	if strings.TrimSpace(cfg.Application) == "" {
		cfg.Application = defaultApplication
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Aggregator{cfg: cfg}, nil
}

// Hub exposes the fan-out used by subscribers.
func (a *Aggregator) Hub() *Hub {
	return a.cfg.Hub
}

// Viewers exposes the viewer tally shared with the stats gateway.
func (a *Aggregator) Viewers() *ViewerCounts {
	return a.cfg.Viewers
}

// Window returns the retained samples for a stream, oldest first.
func (a *Aggregator) Window(ctx context.Context, streamKey string) ([]Sample, error) {
	since := a.cfg.now().Add(-a.cfg.Retention).UnixMilli()
	return a.cfg.Series.Window(ctx, streamKey, since)
}

// Start launches the polling loop.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("aggregator already started")
	}
	a.started = true
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx)
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle. Exposed so tests can drive the aggregator without
// real time.
func (a *Aggregator) Tick(ctx context.Context) {
	rtmpStats, err := a.cfg.Fetch(ctx)
	if err != nil {
		if a.cfg.Metrics != nil {
			a.cfg.Metrics.StatsTick(true)
		}
		a.cfg.Logger.Warn("stat poll failed", "error", err)
		return
	}
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.StatsTick(false)
	}

	now := a.cfg.now()
	cutoff := now.Add(-a.cfg.Retention).UnixMilli()

	app, ok := rtmpStats.Application(a.cfg.Application)
	if !ok {
		a.cfg.Logger.Debug("application missing from stats", "application", a.cfg.Application)
		return
	}
	for _, stream := range app.Live.Streams {
		if !stream.IsPublishing() {
			continue
		}
		sample := BuildSample(stream, a.cfg.Viewers.Count(stream.Name), now)
		if err := a.cfg.Series.Upsert(ctx, sample); err != nil {
			a.cfg.Logger.Warn("sample upsert failed", "stream", stream.Name, "error", err)
			continue
		}
		window, err := a.cfg.Series.Window(ctx, stream.Name, cutoff)
		if err != nil {
			a.cfg.Logger.Warn("window read failed", "stream", stream.Name, "error", err)
			continue
		}
		a.cfg.Hub.Publish(stream.Name, window)
	}
	if err := a.cfg.Series.Prune(ctx, cutoff); err != nil {
		a.cfg.Logger.Warn("series prune failed", "error", err)
	}
}
