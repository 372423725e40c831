package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/catalog"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/transcode"
)

// Handler holds the API endpoints backed by the catalog and the transcode
// pipeline.
type Handler struct {
	Catalog  catalog.Repository
	Pipeline *transcode.Pipeline
	Logger   *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Users handles POST (create) and GET (list) on /api/users.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var params catalog.CreateUserParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		user, err := h.Catalog.CreateUser(params)
		if err != nil {
			if errors.Is(err, catalog.ErrEmailInUse) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Catalog.ListUsers())
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// UserOps routes /api/users/{id}/ingest-token and /api/users/{id}/stream-key.
func (h *Handler) UserOps(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 1 && r.Method == http.MethodGet {
		user, ok := h.Catalog.GetUser(parts[0])
		if !ok {
			writeError(w, http.StatusNotFound, catalog.ErrUserNotFound)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}
	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	userID, op := parts[0], parts[1]
	switch op {
	case "ingest-token":
		token, err := h.Catalog.IssueIngestToken(userID)
		if err != nil {
			if errors.Is(err, catalog.ErrUserNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	case "stream-key":
		user, err := h.Catalog.RotateStreamKey(userID)
		if err != nil {
			if errors.Is(err, catalog.ErrUserNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		writeError(w, http.StatusNotFound, errors.New("not found"))
	}
}

// Publish is the media server's on_publish hook. The stream key arrives as
// the form field "name"; an unknown key rejects the publish.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}
	streamKey := strings.TrimSpace(r.FormValue("name"))
	if streamKey == "" {
		writeError(w, http.StatusBadRequest, errors.New("stream key is required"))
		return
	}
	user, ok := h.Catalog.FindUserByStreamKey(streamKey)
	if !ok {
		h.logger().Warn("publish rejected", "stream_key", streamKey)
		writeError(w, http.StatusForbidden, errors.New("unknown stream key"))
		return
	}
	h.logger().Info("publish accepted", "stream_key", streamKey, "user_id", user.ID)
	w.WriteHeader(http.StatusOK)
}

type recordDoneRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// RecordDone is the media server's record_done hook: a finished recording is
// queued for post-processing. Accepts both the form encoding nginx sends and
// JSON for manual requeues.
func (h *Handler) RecordDone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req recordDoneRequest
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
			return
		}
		req.Name = r.FormValue("name")
		req.Path = r.FormValue("path")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Path = strings.TrimSpace(req.Path)
	if req.Name == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("name and path are required"))
		return
	}
	job, err := h.Pipeline.EnqueueSource(r.Context(), req.Name, req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.logger().Info("recording queued", "job_id", job.ID, "source", req.Name)
	writeJSON(w, http.StatusAccepted, job)
}

// Videos handles GET /api/videos.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	videos := h.Catalog.ListVideos()
	if videos == nil {
		videos = []catalog.Video{}
	}
	writeJSON(w, http.StatusOK, videos)
}

// VideoByID handles GET and DELETE on /api/videos/{id}.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/videos/"), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, catalog.ErrVideoNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		video, ok := h.Catalog.GetVideo(id)
		if !ok {
			writeError(w, http.StatusNotFound, catalog.ErrVideoNotFound)
			return
		}
		writeJSON(w, http.StatusOK, video)
	case http.MethodDelete:
		if err := h.Catalog.DeleteVideo(id); err != nil {
			if errors.Is(err, catalog.ErrVideoNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// Jobs handles GET /api/jobs, reporting the pipeline's known jobs.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	writeJSON(w, http.StatusOK, h.Pipeline.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
