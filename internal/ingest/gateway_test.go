package ingest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/ws"
)

func wsURL(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	url := strings.Replace(srv.URL, "http://", "ws://", 1)
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func waitForSessions(t *testing.T, manager *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if manager.ActiveSessions() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("active sessions: got %d want %d", manager.ActiveSessions(), want)
}

func TestGatewayRelaysChunksAndStops(t *testing.T) {
	manager := newTestManager(t, nil)
	gateway := NewGateway(manager, testLogger())

	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := ws.Dial(ctx, wsURL(t, srv, "user-1.secret"), nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	waitForSessions(t, manager, 1)

	if err := conn.WriteBinary([]byte("chunk-1")); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	if err := conn.WriteBinary([]byte("chunk-2")); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	if err := conn.WriteText([]byte("stop-stream")); err != nil {
		t.Fatalf("write stop command: %v", err)
	}

	waitForSessions(t, manager, 0)
}

func TestGatewayClosesSessionOnDisconnect(t *testing.T) {
	manager := newTestManager(t, nil)
	gateway := NewGateway(manager, testLogger())

	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := ws.Dial(ctx, wsURL(t, srv, "user-1.secret"), nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForSessions(t, manager, 1)

	_ = conn.Close()

	waitForSessions(t, manager, 0)
}

func TestGatewayDrainsUnknownToken(t *testing.T) {
	manager := newTestManager(t, nil)
	gateway := NewGateway(manager, testLogger())

	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := ws.Dial(ctx, wsURL(t, srv, "wrong.token"), nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	// No session is registered, but the socket stays open and accepts
	// whatever the publisher sends.
	for i := 0; i < 3; i++ {
		if err := conn.WriteBinary([]byte("discarded")); err != nil {
			t.Fatalf("write %d on drained socket: %v", i, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := manager.ActiveSessions(); got != 0 {
		t.Fatalf("rejected publisher must not hold a session: %d", got)
	}
}
