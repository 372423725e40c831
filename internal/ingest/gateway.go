package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/logging"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/ws"
)

// stopCommand is the text control message a publisher sends to end the
// broadcast without closing the socket.
const stopCommand = "stop-stream"

// Gateway serves the ingest WebSocket endpoint. Binary frames are media
// chunks; text frames carry control commands. A connection whose token does
// not resolve stays open but its media is discarded.
type Gateway struct {
	manager *Manager
	logger  *slog.Logger
}

func NewGateway(manager *Manager, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{manager: manager, logger: logger}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))

	conn, err := ws.Accept(w, r)
	if err != nil {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	logger := g.logger
	if requestID, ok := logging.RequestIDFromContext(r.Context()); ok {
		logger = logger.With("request_id", requestID)
	}

	session, err := g.manager.OpenSession(token)
	if err != nil {
		// The publisher is not told why; its chunks go nowhere.
		logger.Warn("ingest identity rejected", "error", err)
		go g.drain(conn, logger)
		return
	}
	go g.serve(conn, session, logger)
}

func (g *Gateway) serve(conn *ws.Conn, session *Session, logger *slog.Logger) {
	defer conn.Close()
	defer func() {
		if err := g.manager.CloseSession(context.Background(), session); err != nil {
			logger.Error("session close failed", "session_id", session.ID(), "error", err)
		}
	}()

	logger = logger.With("session_id", session.ID())
	for {
		msgType, payload, err := conn.ReadMessage(context.Background())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("ingest socket closed", "error", err)
			}
			return
		}
		switch msgType {
		case ws.Binary:
			if err := session.Write(context.Background(), payload); err != nil {
				logger.Error("chunk relay failed", "error", err)
				return
			}
		case ws.Text:
			if strings.TrimSpace(string(payload)) == stopCommand {
				if err := session.Stop(context.Background()); err != nil {
					logger.Error("stop command failed", "error", err)
				}
				return
			}
			logger.Debug("unknown ingest command", "command", string(payload))
		}
	}
}

// drain keeps reading an unauthenticated connection so the peer sees a live
// socket, discarding everything it sends.
func (g *Gateway) drain(conn *ws.Conn, logger *slog.Logger) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(context.Background()); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("unauthenticated socket closed", "error", err)
			}
			return
		}
	}
}
