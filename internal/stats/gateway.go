package stats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/logging"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/ws"
)

// Gateway serves the stats WebSocket endpoint. Clients subscribe to a stream
// key and receive the retained sample window on every aggregation tick; the
// same socket carries viewer start/stop signals.
type Gateway struct {
	aggregator *Aggregator
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

func NewGateway(aggregator *Aggregator, logger *slog.Logger, recorder *metrics.Recorder) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{aggregator: aggregator, logger: logger, metrics: recorder}
}

type clientMessage struct {
	Type      string `json:"type"`
	StreamKey string `json:"streamKey"`
}

type chartMessage struct {
	Type      string   `json:"type"`
	StreamKey string   `json:"streamKey"`
	Samples   []Sample `json:"samples"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r)
	if err != nil {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	logger := g.logger
	if requestID, ok := logging.RequestIDFromContext(r.Context()); ok {
		logger = logger.With("request_id", requestID)
	}
	go g.serve(conn, logger)
}

func (g *Gateway) serve(conn *ws.Conn, logger *slog.Logger) {
	defer conn.Close()

	// One socket can watch several streams at once; viewed tracks them so a
	// disconnect releases every count exactly once.
	var (
		mu        sync.Mutex
		cancelSub func()
		viewed    = make(map[string]bool)
	)
	cleanup := func() {
		mu.Lock()
		defer mu.Unlock()
		if cancelSub != nil {
			cancelSub()
			cancelSub = nil
			if g.metrics != nil {
				g.metrics.SubscriberRemoved()
			}
		}
		for key := range viewed {
			g.aggregator.Viewers().StopViewing(key)
			delete(viewed, key)
		}
	}
	defer cleanup()

	for {
		msgType, payload, err := conn.ReadMessage(context.Background())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("stats socket closed", "error", err)
			}
			return
		}
		if msgType != ws.Text {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Debug("malformed stats message", "error", err)
			continue
		}
		if msg.StreamKey == "" {
			continue
		}
		switch msg.Type {
		case "subscribe":
			mu.Lock()
			if cancelSub != nil {
				cancelSub()
				cancelSub = nil
				if g.metrics != nil {
					g.metrics.SubscriberRemoved()
				}
			}
			updates, cancel := g.aggregator.Hub().Subscribe(msg.StreamKey, 4)
			cancelSub = cancel
			mu.Unlock()
			if g.metrics != nil {
				g.metrics.SubscriberAdded()
			}
			// Send the retained window immediately so the client does not
			// wait for the next tick.
			if window, err := g.aggregator.Window(context.Background(), msg.StreamKey); err == nil {
				g.push(conn, msg.StreamKey, window, logger)
			}
			go g.forward(conn, msg.StreamKey, updates, logger)
		case "startViewing":
			mu.Lock()
			if !viewed[msg.StreamKey] {
				viewed[msg.StreamKey] = true
				g.aggregator.Viewers().StartViewing(msg.StreamKey)
				if g.metrics != nil {
					g.metrics.ObserveViewerSignal("start")
				}
			}
			mu.Unlock()
		case "stopViewing":
			mu.Lock()
			if viewed[msg.StreamKey] {
				delete(viewed, msg.StreamKey)
				g.aggregator.Viewers().StopViewing(msg.StreamKey)
				if g.metrics != nil {
					g.metrics.ObserveViewerSignal("stop")
				}
			}
			mu.Unlock()
		default:
			logger.Debug("unknown stats message type", "type", msg.Type)
		}
	}
}

func (g *Gateway) forward(conn *ws.Conn, streamKey string, updates <-chan []Sample, logger *slog.Logger) {
	for window := range updates {
		g.push(conn, streamKey, window, logger)
	}
}

func (g *Gateway) push(conn *ws.Conn, streamKey string, window []Sample, logger *slog.Logger) {
	if window == nil {
		window = []Sample{}
	}
	payload, err := json.Marshal(chartMessage{Type: "streamChartData", StreamKey: streamKey, Samples: window})
	if err != nil {
		logger.Error("encode chart message failed", "error", err)
		return
	}
	if err := conn.WriteText(payload); err != nil {
		logger.Debug("chart push failed", "error", err)
	}
}
