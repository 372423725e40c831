package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONStoreCreateUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	user, err := store.CreateUser(CreateUserParams{DisplayName: "  Alice  ", Email: " Alice@Example.COM "})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.DisplayName != "Alice" {
		t.Errorf("display name not trimmed: %q", user.DisplayName)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if len(user.StreamKey) != 20 {
		t.Errorf("expected 20 character stream key, got %q", user.StreamKey)
	}
	if user.ID == "" || user.CreatedAt.IsZero() {
		t.Errorf("incomplete user record: %+v", user)
	}

	if _, err := store.CreateUser(CreateUserParams{DisplayName: "Other", Email: "alice@example.com"}); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if _, err := store.CreateUser(CreateUserParams{Email: "b@example.com"}); err == nil {
		t.Fatal("expected error for missing display name")
	}
	if _, err := store.CreateUser(CreateUserParams{DisplayName: "B"}); err == nil {
		t.Fatal("expected error for missing email")
	}
}

func TestJSONStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	user, err := store.CreateUser(CreateUserParams{DisplayName: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.SaveVideo(Video{Name: "clip", OwnerID: user.ID}); err != nil {
		t.Fatalf("save video: %v", err)
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.GetUser(user.ID)
	if !ok {
		t.Fatal("user lost across reopen")
	}
	if got.StreamKey != user.StreamKey {
		t.Errorf("stream key changed across reopen")
	}
	if videos := reopened.ListVideos(); len(videos) != 1 || videos[0].Name != "clip" {
		t.Errorf("videos lost across reopen: %v", videos)
	}
}

func TestJSONStoreCreateUserRollsBackOnPersistFailure(t *testing.T) {
	store, err := NewJSONStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	persistErr := errors.New("disk full")
	store.persistOverride = func(dataset) error { return persistErr }

	if _, err := store.CreateUser(CreateUserParams{DisplayName: "Alice", Email: "alice@example.com"}); !errors.Is(err, persistErr) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if users := store.ListUsers(); len(users) != 0 {
		t.Fatalf("failed create must not leave a user behind: %v", users)
	}
}

func TestJSONStoreRotateStreamKey(t *testing.T) {
	store, err := NewJSONStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	user, err := store.CreateUser(CreateUserParams{DisplayName: "Alice", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	rotated, err := store.RotateStreamKey(user.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.StreamKey == user.StreamKey {
		t.Fatal("stream key did not change")
	}
	if _, ok := store.FindUserByStreamKey(user.StreamKey); ok {
		t.Fatal("old stream key still resolves")
	}
	if found, ok := store.FindUserByStreamKey(rotated.StreamKey); !ok || found.ID != user.ID {
		t.Fatal("new stream key does not resolve")
	}

	if _, err := store.RotateStreamKey("missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestJSONStoreIngestTokens(t *testing.T) {
	store, err := NewJSONStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	user, err := store.CreateUser(CreateUserParams{DisplayName: "Alice", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	// No token issued yet.
	if _, err := store.ResolveIngestToken(user.ID + ".whatever"); !errors.Is(err, ErrInvalidIngestToken) {
		t.Fatalf("expected ErrInvalidIngestToken before issue, got %v", err)
	}

	token, err := store.IssueIngestToken(user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	resolved, err := store.ResolveIngestToken(token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("token resolved to wrong user: %q", resolved.ID)
	}

	// Reissuing invalidates the previous token.
	second, err := store.IssueIngestToken(user.ID)
	if err != nil {
		t.Fatalf("reissue token: %v", err)
	}
	if second == token {
		t.Fatal("reissued token must differ")
	}
	if _, err := store.ResolveIngestToken(token); !errors.Is(err, ErrInvalidIngestToken) {
		t.Fatalf("old token should be invalid, got %v", err)
	}
	if _, err := store.ResolveIngestToken(second); err != nil {
		t.Fatalf("new token should resolve: %v", err)
	}

	if _, err := store.ResolveIngestToken("garbage"); !errors.Is(err, ErrInvalidIngestToken) {
		t.Fatalf("expected ErrInvalidIngestToken for malformed token, got %v", err)
	}
	if _, err := store.IssueIngestToken("missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestJSONStoreVideos(t *testing.T) {
	store, err := NewJSONStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	first, err := store.SaveVideo(Video{Name: "first", CreatedAt: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := store.SaveVideo(Video{Name: "second"})
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	videos := store.ListVideos()
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].ID != second.ID {
		t.Errorf("videos should list newest first, got %q", videos[0].Name)
	}

	// Saving with an existing ID updates in place.
	updated := first
	updated.Name = "first-renamed"
	if _, err := store.SaveVideo(updated); err != nil {
		t.Fatalf("update video: %v", err)
	}
	got, ok := store.GetVideo(first.ID)
	if !ok || got.Name != "first-renamed" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := store.DeleteVideo(first.ID); err != nil {
		t.Fatalf("delete video: %v", err)
	}
	if _, ok := store.GetVideo(first.ID); ok {
		t.Fatal("deleted video still present")
	}
	if err := store.DeleteVideo(first.ID); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}

	if _, err := store.SaveVideo(Video{}); err == nil {
		t.Fatal("expected error for unnamed video")
	}
}

func TestNewJSONStoreToleratesMissingAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()

	store, err := NewJSONStore(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("missing file should be fine: %v", err)
	}
	if users := store.ListUsers(); len(users) != 0 {
		t.Fatalf("expected empty catalog, got %v", users)
	}

	emptyPath := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(emptyPath, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	if _, err := NewJSONStore(emptyPath); err != nil {
		t.Fatalf("empty file should be fine: %v", err)
	}

	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}
	if _, err := NewJSONStore(badPath); err == nil {
		t.Fatal("expected error for corrupt catalog")
	}
}
