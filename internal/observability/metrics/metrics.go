package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// TranscodeJobLabel identifies a pipeline job counter by terminal status.
type TranscodeJobLabel struct {
	Status string
}

// Recorder aggregates in-memory counters and gauges for HTTP traffic, ingest
// sessions, encoder lifecycle, transcode jobs, and stats polling. It
// coordinates concurrent writers via a RWMutex while exposing atomic gauges
// for active session tracking.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	ingestEvents      map[string]uint64
	encoderRestarts   uint64
	transcodeEvents   map[TranscodeJobLabel]uint64
	statsTicks        uint64
	statsTickFailures uint64
	viewerSignals     map[string]uint64

	activeSessions      atomic.Int64
	activeTranscodeJobs atomic.Int64
	statsSubscribers    atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		ingestEvents:    make(map[string]uint64),
		transcodeEvents: make(map[TranscodeJobLabel]uint64),
		viewerSignals:   make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not carry
// their own instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionStarted records an ingest session opening and bumps the gauge.
func (r *Recorder) SessionStarted() {
	r.incrementIngestEvent("start")
	r.activeSessions.Add(1)
}

// SessionStopped records an ingest session ending.
func (r *Recorder) SessionStopped() {
	r.incrementIngestEvent("stop")
	r.decrementGauge(&r.activeSessions)
}

// SessionRejected records a connection whose identity could not be resolved.
func (r *Recorder) SessionRejected() {
	r.incrementIngestEvent("rejected")
}

// EncoderRestarted records a session recreating its encoder after a crash.
func (r *Recorder) EncoderRestarted() {
	r.mu.Lock()
	r.encoderRestarts++
	r.mu.Unlock()
}

func (r *Recorder) incrementIngestEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.ingestEvents[normalized]++
	r.mu.Unlock()
}

// TranscodeJobStarted records a job leaving the queue and bumps the gauge.
func (r *Recorder) TranscodeJobStarted() {
	r.recordTranscodeEvent("running")
	r.activeTranscodeJobs.Add(1)
}

// TranscodeJobCompleted records a successful job.
func (r *Recorder) TranscodeJobCompleted() {
	r.recordTranscodeEvent("completed")
	r.decrementGauge(&r.activeTranscodeJobs)
}

// TranscodeJobFailed records a failed job.
func (r *Recorder) TranscodeJobFailed() {
	r.recordTranscodeEvent("failed")
	r.decrementGauge(&r.activeTranscodeJobs)
}

func (r *Recorder) recordTranscodeEvent(status string) {
	label := TranscodeJobLabel{Status: normalizeName(status)}
	r.mu.Lock()
	r.transcodeEvents[label]++
	r.mu.Unlock()
}

// StatsTick records one aggregator poll; failed marks a fetch or parse error.
func (r *Recorder) StatsTick(failed bool) {
	r.mu.Lock()
	r.statsTicks++
	if failed {
		r.statsTickFailures++
	}
	r.mu.Unlock()
}

// ObserveViewerSignal counts startViewing / stopViewing signals by type.
func (r *Recorder) ObserveViewerSignal(kind string) {
	normalized := normalizeName(kind)
	r.mu.Lock()
	r.viewerSignals[normalized]++
	r.mu.Unlock()
}

// SubscriberAdded bumps the stats subscriber gauge.
func (r *Recorder) SubscriberAdded() {
	r.statsSubscribers.Add(1)
}

// SubscriberRemoved drops the stats subscriber gauge, never below zero.
func (r *Recorder) SubscriberRemoved() {
	r.decrementGauge(&r.statsSubscribers)
}

// ActiveSessions exposes the gauge of currently open ingest sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// ActiveTranscodeJobs exposes the gauge of jobs currently running.
func (r *Recorder) ActiveTranscodeJobs() int64 {
	return r.activeTranscodeJobs.Load()
}

// TranscodeJobCounts returns copies of the job event counters and the active
// gauge value, for tests and reporting.
func (r *Recorder) TranscodeJobCounts() (events map[TranscodeJobLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[TranscodeJobLabel]uint64, len(r.transcodeEvents))
	for k, v := range r.transcodeEvents {
		events[k] = v
	}
	return events, r.activeTranscodeJobs.Load()
}

// StatsTickCounts returns the total and failed poll counts.
func (r *Recorder) StatsTickCounts() (total, failed uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsTicks, r.statsTickFailures
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.ingestEvents = make(map[string]uint64)
	r.encoderRestarts = 0
	r.transcodeEvents = make(map[TranscodeJobLabel]uint64)
	r.statsTicks = 0
	r.statsTickFailures = 0
	r.viewerSignals = make(map[string]uint64)
	r.activeSessions.Store(0)
	r.activeTranscodeJobs.Store(0)
	r.statsSubscribers.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with label sets sorted
// for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	ingestEvents := sortedKeys(r.ingestEvents)
	viewerSignals := sortedKeys(r.viewerSignals)
	transcodeLabels := r.sortedTranscodeLabels()

	fmt.Fprintln(w, "# HELP golive_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE golive_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "golive_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP golive_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE golive_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "golive_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP golive_ingest_sessions_total Ingest session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE golive_ingest_sessions_total counter")
	for _, event := range ingestEvents {
		fmt.Fprintf(w, "golive_ingest_sessions_total{event=\"%s\"} %d\n", event, r.ingestEvents[event])
	}

	fmt.Fprintln(w, "# HELP golive_ingest_active_sessions Current number of open ingest sessions")
	fmt.Fprintln(w, "# TYPE golive_ingest_active_sessions gauge")
	fmt.Fprintf(w, "golive_ingest_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP golive_encoder_restarts_total Encoder handles recreated after a crash")
	fmt.Fprintln(w, "# TYPE golive_encoder_restarts_total counter")
	fmt.Fprintf(w, "golive_encoder_restarts_total %d\n", r.encoderRestarts)

	fmt.Fprintln(w, "# HELP golive_transcode_jobs_total Transcode job events by status")
	fmt.Fprintln(w, "# TYPE golive_transcode_jobs_total counter")
	for _, label := range transcodeLabels {
		fmt.Fprintf(w, "golive_transcode_jobs_total{status=\"%s\"} %d\n", label.Status, r.transcodeEvents[label])
	}

	fmt.Fprintln(w, "# HELP golive_transcode_active_jobs Current number of running transcode jobs")
	fmt.Fprintln(w, "# TYPE golive_transcode_active_jobs gauge")
	fmt.Fprintf(w, "golive_transcode_active_jobs %d\n", r.activeTranscodeJobs.Load())

	fmt.Fprintln(w, "# HELP golive_stats_ticks_total Stats aggregator polls")
	fmt.Fprintln(w, "# TYPE golive_stats_ticks_total counter")
	fmt.Fprintf(w, "golive_stats_ticks_total %d\n", r.statsTicks)

	fmt.Fprintln(w, "# HELP golive_stats_tick_failures_total Stats aggregator polls that failed to fetch or parse")
	fmt.Fprintln(w, "# TYPE golive_stats_tick_failures_total counter")
	fmt.Fprintf(w, "golive_stats_tick_failures_total %d\n", r.statsTickFailures)

	fmt.Fprintln(w, "# HELP golive_stats_subscribers Current number of stats subscribers")
	fmt.Fprintln(w, "# TYPE golive_stats_subscribers gauge")
	fmt.Fprintf(w, "golive_stats_subscribers %d\n", r.statsSubscribers.Load())

	fmt.Fprintln(w, "# HELP golive_viewer_signals_total Viewer start/stop signals by type")
	fmt.Fprintln(w, "# TYPE golive_viewer_signals_total counter")
	for _, kind := range viewerSignals {
		fmt.Fprintf(w, "golive_viewer_signals_total{signal=\"%s\"} %d\n", kind, r.viewerSignals[kind])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTranscodeLabels() []TranscodeJobLabel {
	labels := make([]TranscodeJobLabel, 0, len(r.transcodeEvents))
	for label := range r.transcodeEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
