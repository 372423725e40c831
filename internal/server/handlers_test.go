package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/catalog"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/transcode"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// newTestHandler builds a Handler on an in-memory catalog and an idle
// pipeline: jobs are queued but no worker drains them.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := catalog.NewJSONStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	pipeline, err := transcode.NewPipeline(transcode.PipelineConfig{
		Queue:     transcode.NewMemoryQueue(8),
		Catalog:   store,
		OutputDir: t.TempDir(),
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return &Handler{Catalog: store, Pipeline: pipeline, Logger: quietLogger()}
}

func createUser(t *testing.T, handler *Handler, name, email string) catalog.User {
	t.Helper()
	body := strings.NewReader(`{"displayName":"` + name + `","email":"` + email + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/users", body)
	rr := httptest.NewRecorder()
	handler.Users(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", rr.Code, rr.Body.String())
	}
	var user catalog.User
	if err := json.Unmarshal(rr.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return user
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(t)
	rr := httptest.NewRecorder()
	handler.Health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("body: %s", rr.Body.String())
	}
}

func TestUsersCreateAndList(t *testing.T) {
	handler := newTestHandler(t)
	user := createUser(t, handler, "Alice", "alice@example.com")
	if user.StreamKey == "" {
		t.Fatal("created user missing stream key")
	}

	// Duplicate email conflicts.
	body := strings.NewReader(`{"displayName":"Alice Again","email":"alice@example.com"}`)
	rr := httptest.NewRecorder()
	handler.Users(rr, httptest.NewRequest(http.MethodPost, "/api/users", body))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate email: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.Users(rr, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status %d", rr.Code)
	}
	var users []catalog.User
	if err := json.Unmarshal(rr.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(users) != 1 || users[0].ID != user.ID {
		t.Fatalf("unexpected users: %v", users)
	}

	rr = httptest.NewRecorder()
	handler.Users(rr, httptest.NewRequest(http.MethodDelete, "/api/users", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete: status %d", rr.Code)
	}
}

func TestUserOps(t *testing.T) {
	handler := newTestHandler(t)
	user := createUser(t, handler, "Alice", "alice@example.com")

	// GET by id.
	rr := httptest.NewRecorder()
	handler.UserOps(rr, httptest.NewRequest(http.MethodGet, "/api/users/"+user.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get user: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.UserOps(rr, httptest.NewRequest(http.MethodGet, "/api/users/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get missing user: status %d", rr.Code)
	}

	// Issue ingest token.
	rr = httptest.NewRecorder()
	handler.UserOps(rr, httptest.NewRequest(http.MethodPost, "/api/users/"+user.ID+"/ingest-token", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("issue token: status %d body %s", rr.Code, rr.Body.String())
	}
	var tokenResp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &tokenResp); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if !strings.HasPrefix(tokenResp["token"], user.ID+".") {
		t.Fatalf("token not prefixed with user id: %q", tokenResp["token"])
	}

	// Rotate stream key.
	rr = httptest.NewRecorder()
	handler.UserOps(rr, httptest.NewRequest(http.MethodPost, "/api/users/"+user.ID+"/stream-key", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate key: status %d", rr.Code)
	}
	var rotated catalog.User
	if err := json.Unmarshal(rr.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode rotated user: %v", err)
	}
	if rotated.StreamKey == user.StreamKey {
		t.Fatal("stream key did not rotate")
	}

	// Unknown operation.
	rr = httptest.NewRecorder()
	handler.UserOps(rr, httptest.NewRequest(http.MethodPost, "/api/users/"+user.ID+"/frobnicate", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown op: status %d", rr.Code)
	}
}

func TestPublishHook(t *testing.T) {
	handler := newTestHandler(t)
	user := createUser(t, handler, "Alice", "alice@example.com")

	form := url.Values{"name": {user.StreamKey}}
	req := httptest.NewRequest(http.MethodPost, "/api/streams/publish", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.Publish(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("known key: status %d", rr.Code)
	}

	form = url.Values{"name": {"not-a-key"}}
	req = httptest.NewRequest(http.MethodPost, "/api/streams/publish", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	handler.Publish(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unknown key: status %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/streams/publish", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	handler.Publish(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing key: status %d", rr.Code)
	}
}

func TestRecordDoneQueuesJob(t *testing.T) {
	handler := newTestHandler(t)

	// Form encoding, as nginx sends it.
	form := url.Values{"name": {"abc123"}, "path": {"/recordings/abc123.flv"}}
	req := httptest.NewRequest(http.MethodPost, "/api/streams/record-done", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.RecordDone(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("form enqueue: status %d body %s", rr.Code, rr.Body.String())
	}
	var job transcode.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID == "" || job.Status != transcode.StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}

	// JSON works too.
	req = httptest.NewRequest(http.MethodPost, "/api/streams/record-done", strings.NewReader(`{"name":"xyz","path":"/recordings/xyz.flv"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	handler.RecordDone(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("json enqueue: status %d", rr.Code)
	}

	// Missing fields are rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/streams/record-done", strings.NewReader(`{"name":"xyz"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	handler.RecordDone(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing path: status %d", rr.Code)
	}

	// Both jobs visible in the snapshot.
	rr = httptest.NewRecorder()
	handler.Jobs(rr, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("jobs: status %d", rr.Code)
	}
	var jobs []transcode.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", len(jobs))
	}
}

func TestVideosEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	rr := httptest.NewRecorder()
	handler.Videos(rr, httptest.NewRequest(http.MethodGet, "/api/videos", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("empty list: status %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Fatalf("empty list should encode as [], got %s", body)
	}

	video, err := handler.Catalog.SaveVideo(catalog.Video{Name: "clip"})
	if err != nil {
		t.Fatalf("seed video: %v", err)
	}

	rr = httptest.NewRecorder()
	handler.VideoByID(rr, httptest.NewRequest(http.MethodGet, "/api/videos/"+video.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get video: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.VideoByID(rr, httptest.NewRequest(http.MethodDelete, "/api/videos/"+video.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete video: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.VideoByID(rr, httptest.NewRequest(http.MethodGet, "/api/videos/"+video.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted video: status %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.VideoByID(rr, httptest.NewRequest(http.MethodDelete, "/api/videos/"+video.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete missing video: status %d", rr.Code)
	}
}
