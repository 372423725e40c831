package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/logging"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
)

// Config shapes the HTTP surface: bind address, cross-origin policy, and
// hardening headers.
type Config struct {
	Addr     string
	CORS     CORSConfig
	Security SecurityConfig
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// Gateways bundles the WebSocket endpoints mounted alongside the REST API.
type Gateways struct {
	Ingest http.Handler
	Stats  http.Handler
}

// Server wires the REST handlers, WebSocket gateways, and middleware chain
// into one http.Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func New(handler *Handler, gateways Gateways, cfg Config) (*Server, error) {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/users", handler.Users)
	mux.HandleFunc("/api/users/", handler.UserOps)
	mux.HandleFunc("/api/streams/publish", handler.Publish)
	mux.HandleFunc("/api/streams/record-done", handler.RecordDone)
	mux.HandleFunc("/api/videos", handler.Videos)
	mux.HandleFunc("/api/videos/", handler.VideoByID)
	mux.HandleFunc("/api/jobs", handler.Jobs)
	if gateways.Ingest != nil {
		mux.Handle("/ws/ingest", gateways.Ingest)
	}
	if gateways.Stats != nil {
		mux.Handle("/ws/stats", gateways.Stats)
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors: %w", err)
	}

	handlerChain := http.Handler(mux)
	handlerChain = metricsMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger})(handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = corsMiddleware(policy, cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: httpServer, logger: cfg.Logger}, nil
}

// Handler exposes the middleware-wrapped handler for serving on an external
// listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, sr.Status(), time.Since(start))
	})
}
