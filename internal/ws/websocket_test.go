package ws

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				msgType, payload, err := conn.ReadMessage(context.Background())
				if err != nil {
					return
				}
				switch msgType {
				case Text:
					if err := conn.WriteText(payload); err != nil {
						return
					}
				case Binary:
					if err := conn.WriteBinary(payload); err != nil {
						return
					}
				}
			}
		}()
	}))
}

func dialEcho(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, err := Dial(ctx, strings.Replace(srv.URL, "http://", "ws://", 1), nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestDialAndEcho(t *testing.T) {
	srv := echoServer(t)
	t.Cleanup(srv.Close)
	conn := dialEcho(t, srv)

	if err := conn.WriteText([]byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgType, payload, err := conn.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != Text || string(payload) != `{"hello":"world"}` {
		t.Fatalf("unexpected echo: type=%d payload=%q", msgType, payload)
	}

	chunk := make([]byte, 200) // forces the 16-bit length encoding
	for i := range chunk {
		chunk[i] = byte(i)
	}
	if err := conn.WriteBinary(chunk); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	msgType, payload, err = conn.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read binary: %v", err)
	}
	if msgType != Binary || len(payload) != len(chunk) {
		t.Fatalf("unexpected binary echo: type=%d len=%d", msgType, len(payload))
	}
	for i := range chunk {
		if payload[i] != chunk[i] {
			t.Fatalf("payload corrupted at byte %d", i)
		}
	}
}

func TestPingIsAnsweredTransparently(t *testing.T) {
	srv := echoServer(t)
	t.Cleanup(srv.Close)
	conn := dialEcho(t, srv)

	if err := conn.Ping([]byte("ping")); err != nil {
		t.Fatalf("ping: %v", err)
	}
	// The pong is consumed by the server's read loop; the connection keeps
	// working afterwards.
	if err := conn.WriteText([]byte("still alive")); err != nil {
		t.Fatalf("write after ping: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, payload, err := conn.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != "still alive" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestReadAfterCloseReturnsEOF(t *testing.T) {
	srv := echoServer(t)
	t.Cleanup(srv.Close)
	conn := dialEcho(t, srv)

	_ = conn.Close()
	if _, _, err := conn.ReadMessage(context.Background()); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

func TestDialRejectsBadScheme(t *testing.T) {
	if _, err := Dial(context.Background(), "http://example.com", nil, nil); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func rawConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	peer, local := net.Pipe()
	conn := &Conn{conn: local, reader: bufio.NewReader(local), writer: bufio.NewWriter(local)}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = peer.Close()
	})
	return conn, peer
}

func TestReadMessageReassemblesFragments(t *testing.T) {
	conn, peer := rawConn(t)

	// Pong replies must be drained or the pipe deadlocks.
	go io.Copy(io.Discard, peer)

	go func() {
		var frames []byte
		// Non-final binary frame, a ping in the middle, then the final
		// continuation frame.
		frames = append(frames, 0x02, 5)
		frames = append(frames, []byte("half1")...)
		frames = append(frames, 0x89, 0)
		frames = append(frames, 0x80, 5)
		frames = append(frames, []byte("half2")...)
		_, _ = peer.Write(frames)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgType, payload, err := conn.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read fragmented message: %v", err)
	}
	if msgType != Binary {
		t.Fatalf("message type: got %d want %d", msgType, Binary)
	}
	if string(payload) != "half1half2" {
		t.Fatalf("reassembled payload: got %q want %q", payload, "half1half2")
	}
}

func TestReadMessageRejectsStrayContinuation(t *testing.T) {
	conn, peer := rawConn(t)

	go func() {
		frames := []byte{0x80, 4}
		frames = append(frames, []byte("lone")...)
		_, _ = peer.Write(frames)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.ReadMessage(ctx); err != ErrUnexpectedFrame {
		t.Fatalf("expected ErrUnexpectedFrame, got %v", err)
	}
}

func TestClientFramesAreMasked(t *testing.T) {
	peer, local := net.Pipe()
	conn := &Conn{conn: local, reader: bufio.NewReader(local), writer: bufio.NewWriter(local), client: true}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = peer.Close()
	})

	go func() {
		_ = conn.WriteBinary([]byte("chunk"))
	}()

	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	header := make([]byte, 2)
	if _, err := io.ReadFull(peer, header); err != nil {
		t.Fatalf("read frame header: %v", err)
	}
	if header[1]&0x80 == 0 {
		t.Fatal("client frame missing the mask bit")
	}
	if length := int(header[1] & 0x7F); length != 5 {
		t.Fatalf("frame length: got %d want 5", length)
	}
	var key [4]byte
	if _, err := io.ReadFull(peer, key[:]); err != nil {
		t.Fatalf("read mask key: %v", err)
	}
	payload := make([]byte, 5)
	if _, err := io.ReadFull(peer, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	for i := range payload {
		payload[i] ^= key[i%4]
	}
	if string(payload) != "chunk" {
		t.Fatalf("unmasked payload: got %q want %q", payload, "chunk")
	}
}
