package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/catalog"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/media/encoder"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
)

type fakeResolver struct {
	users map[string]catalog.User
}

func (r *fakeResolver) ResolveIngestToken(token string) (catalog.User, error) {
	user, ok := r.users[token]
	if !ok {
		return catalog.User{}, catalog.ErrInvalidIngestToken
	}
	return user, nil
}

func newTestManager(t *testing.T, recorder *metrics.Recorder) *Manager {
	t.Helper()
	resolver := &fakeResolver{users: map[string]catalog.User{
		"user-1.secret": testUser(),
	}}
	manager, err := NewManager(testConfig(), resolver, testLogger(), recorder)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	manager.factory = func(_ encoder.Options, _ *slog.Logger) mediaEncoder {
		return newFakeEncoder()
	}
	return manager
}

func TestManagerOpenAndCloseSession(t *testing.T) {
	recorder := metrics.New()
	manager := newTestManager(t, recorder)

	session, err := manager.OpenSession("user-1.secret")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if session.User().ID != "user-1" {
		t.Fatalf("session bound to wrong user: %q", session.User().ID)
	}
	if got := manager.ActiveSessions(); got != 1 {
		t.Fatalf("active sessions: got %d want 1", got)
	}
	if got := recorder.ActiveSessions(); got != 1 {
		t.Fatalf("session gauge: got %d want 1", got)
	}

	if err := manager.CloseSession(context.Background(), session); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if got := manager.ActiveSessions(); got != 0 {
		t.Fatalf("active sessions after close: got %d", got)
	}
	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("session gauge after close: got %d", got)
	}

	// Closing twice is harmless.
	if err := manager.CloseSession(context.Background(), session); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestManagerRejectsSecondPublisherForLiveKey(t *testing.T) {
	recorder := metrics.New()
	manager := newTestManager(t, recorder)

	session, err := manager.OpenSession("user-1.secret")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	if _, err := manager.OpenSession("user-1.secret"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	if got := manager.ActiveSessions(); got != 1 {
		t.Fatalf("second publisher must not register: %d sessions", got)
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	if !strings.Contains(buf.String(), `golive_ingest_sessions_total{event="rejected"} 1`) {
		t.Error("duplicate publisher rejection not recorded")
	}

	// Once the first publisher leaves, the key is free again.
	if err := manager.CloseSession(context.Background(), session); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if _, err := manager.OpenSession("user-1.secret"); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestManagerRejectsUnknownToken(t *testing.T) {
	recorder := metrics.New()
	manager := newTestManager(t, recorder)

	if _, err := manager.OpenSession("bogus.token"); !errors.Is(err, catalog.ErrInvalidIngestToken) {
		t.Fatalf("expected ErrInvalidIngestToken, got %v", err)
	}
	if got := manager.ActiveSessions(); got != 0 {
		t.Fatalf("rejected token must not register a session: %d", got)
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	if !strings.Contains(buf.String(), `golive_ingest_sessions_total{event="rejected"} 1`) {
		t.Error("rejection not recorded")
	}
}

func TestManagerShutdown(t *testing.T) {
	manager := newTestManager(t, nil)

	session, err := manager.OpenSession("user-1.secret")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := session.Write(context.Background(), []byte("chunk")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := manager.ActiveSessions(); got != 0 {
		t.Fatalf("sessions remain after shutdown: %d", got)
	}

	// The manager refuses new sessions once shut down.
	if _, err := manager.OpenSession("user-1.secret"); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}

	// Shutdown is idempotent.
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	resolver := &fakeResolver{}
	if _, err := NewManager(Config{}, resolver, testLogger(), nil); err == nil {
		t.Fatal("expected error for missing rtmp url")
	}
	if _, err := NewManager(testConfig(), nil, testLogger(), nil); err == nil {
		t.Fatal("expected error for missing resolver")
	}
}
