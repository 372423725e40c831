package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type dataset struct {
	Users  map[string]User  `json:"users"`
	Videos map[string]Video `json:"videos"`
}

func newDataset() dataset {
	return dataset{
		Users:  make(map[string]User),
		Videos: make(map[string]Video),
	}
}

// JSONStore is a file backed Repository. All mutations are persisted with an
// atomic temp file rename so a crash never leaves a torn catalog on disk.
type JSONStore struct {
	mu   sync.RWMutex
	path string
	data dataset

	// persistOverride lets tests capture writes without touching disk.
	persistOverride func(dataset) error
}

// NewJSONStore loads the catalog at path, creating an empty one when the file
// does not exist yet.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{path: path, data: newDataset()}
	if path == "" {
		return store, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if len(raw) == 0 {
		return store, nil
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if data.Users == nil {
		data.Users = make(map[string]User)
	}
	if data.Videos == nil {
		data.Videos = make(map[string]Video)
	}
	store.data = data
	return store, nil
}

func (s *JSONStore) CreateUser(params CreateUserParams) (User, error) {
	displayName := strings.TrimSpace(params.DisplayName)
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if displayName == "" {
		return User{}, errors.New("display name is required")
	}
	if email == "" {
		return User{}, errors.New("email is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.data.Users {
		if existing.Email == email {
			return User{}, ErrEmailInUse
		}
	}
	id, err := generateID()
	if err != nil {
		return User{}, err
	}
	key, err := generateStreamKey()
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:          id,
		DisplayName: displayName,
		Email:       email,
		StreamKey:   key,
		CreatedAt:   time.Now().UTC(),
	}
	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return User{}, err
	}
	return user, nil
}

func (s *JSONStore) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

func (s *JSONStore) FindUserByStreamKey(streamKey string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if user.StreamKey == streamKey {
			return user, true
		}
	}
	return User{}, false
}

func (s *JSONStore) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

func (s *JSONStore) RotateStreamKey(userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.data.Users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	key, err := generateStreamKey()
	if err != nil {
		return User{}, err
	}
	previous := user
	user.StreamKey = key
	s.data.Users[userID] = user
	if err := s.persist(); err != nil {
		s.data.Users[userID] = previous
		return User{}, err
	}
	return user, nil
}

func (s *JSONStore) IssueIngestToken(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.data.Users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	secret, err := newTokenSecret()
	if err != nil {
		return "", err
	}
	hash, err := hashTokenSecret(secret)
	if err != nil {
		return "", err
	}
	previous := user
	user.IngestTokenHash = hash
	s.data.Users[userID] = user
	if err := s.persist(); err != nil {
		s.data.Users[userID] = previous
		return "", err
	}
	return composeToken(user.ID, secret), nil
}

func (s *JSONStore) ResolveIngestToken(token string) (User, error) {
	userID, secret, ok := splitToken(token)
	if !ok {
		return User{}, ErrInvalidIngestToken
	}
	s.mu.RLock()
	user, found := s.data.Users[userID]
	s.mu.RUnlock()
	if !found || user.IngestTokenHash == "" {
		return User{}, ErrInvalidIngestToken
	}
	if err := verifyTokenSecret(user.IngestTokenHash, secret); err != nil {
		return User{}, ErrInvalidIngestToken
	}
	return user, nil
}

func (s *JSONStore) SaveVideo(video Video) (Video, error) {
	if strings.TrimSpace(video.Name) == "" {
		return Video{}, errors.New("video name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if video.ID == "" {
		id, err := generateID()
		if err != nil {
			return Video{}, err
		}
		video.ID = id
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
	previous, existed := s.data.Videos[video.ID]
	s.data.Videos[video.ID] = video
	if err := s.persist(); err != nil {
		if existed {
			s.data.Videos[video.ID] = previous
		} else {
			delete(s.data.Videos, video.ID)
		}
		return Video{}, err
	}
	return video, nil
}

func (s *JSONStore) GetVideo(id string) (Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

func (s *JSONStore) ListVideos() []Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		videos = append(videos, video)
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].CreatedAt.After(videos[j].CreatedAt) })
	return videos
}

func (s *JSONStore) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return ErrVideoNotFound
	}
	delete(s.data.Videos, id)
	if err := s.persist(); err != nil {
		s.data.Videos[id] = video
		return err
	}
	return nil
}

func (s *JSONStore) Close(ctx context.Context) error {
	return nil
}

func (s *JSONStore) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(cloneDataset(s.data))
	}
	if s.path == "" {
		return nil
	}
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

func cloneDataset(data dataset) dataset {
	clone := newDataset()
	for id, user := range data.Users {
		clone.Users[id] = user
	}
	for id, video := range data.Videos {
		copied := video
		copied.RenditionURLs = append([]string(nil), video.RenditionURLs...)
		copied.Thumbnails = append([]string(nil), video.Thumbnails...)
		clone.Videos[id] = copied
	}
	return clone
}

func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// generateStreamKey mints the key publishers use on the RTMP path. Ten random
// bytes hex encoded gives the 20 character keys the media server expects.
func generateStreamKey() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate stream key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
