package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS catalog_users (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    stream_key TEXT NOT NULL UNIQUE,
    ingest_token_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_videos (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    owner_id TEXT NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    size_bytes BIGINT NOT NULL DEFAULT 0,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    video_codec TEXT NOT NULL DEFAULT '',
    master_playlist_url TEXT NOT NULL DEFAULT '',
    rendition_urls TEXT[] NOT NULL DEFAULT '{}',
    thumbnails TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is a Repository backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and applies the schema. The caller owns the
// returned store and must Close it.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(params CreateUserParams) (User, error) {
	displayName := strings.TrimSpace(params.DisplayName)
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if displayName == "" {
		return User{}, errors.New("display name is required")
	}
	if email == "" {
		return User{}, errors.New("email is required")
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
	ctx, cancel := s.opContext()
	defer cancel()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO catalog_users (id, display_name, email, stream_key, ingest_token_hash, created_at)
		 VALUES ($1, $2, $3, $4, '', $5)`,
		user.ID, user.DisplayName, user.Email, user.StreamKey, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailInUse
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(id string) (User, bool) {
	ctx, cancel := s.opContext()
	defer cancel()
	user, err := s.scanUser(s.pool.QueryRow(ctx, userSelect+" WHERE id = $1", id))
	if err != nil {
		return User{}, false
	}
	return user, true
}

func (s *PostgresStore) FindUserByStreamKey(streamKey string) (User, bool) {
	ctx, cancel := s.opContext()
	defer cancel()
	user, err := s.scanUser(s.pool.QueryRow(ctx, userSelect+" WHERE stream_key = $1", streamKey))
	if err != nil {
		return User{}, false
	}
	return user, true
}

func (s *PostgresStore) ListUsers() []User {
	ctx, cancel := s.opContext()
	defer cancel()
	rows, err := s.pool.Query(ctx, userSelect+" ORDER BY created_at")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (s *PostgresStore) RotateStreamKey(userID string) (User, error) {
	key, err := generateStreamKey()
	if err != nil {
		return User{}, err
	}
	ctx, cancel := s.opContext()
	defer cancel()
	tag, err := s.pool.Exec(ctx, `UPDATE catalog_users SET stream_key = $2 WHERE id = $1`, userID, key)
	if err != nil {
		return User{}, fmt.Errorf("rotate stream key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, ErrUserNotFound
	}
	user, ok := s.GetUser(userID)
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *PostgresStore) IssueIngestToken(userID string) (string, error) {
	secret, err := newTokenSecret()
	if err != nil {
		return "", err
	}
	hash, err := hashTokenSecret(secret)
	if err != nil {
		return "", err
	}
	ctx, cancel := s.opContext()
	defer cancel()
	tag, err := s.pool.Exec(ctx, `UPDATE catalog_users SET ingest_token_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return "", fmt.Errorf("store ingest token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrUserNotFound
	}
	return composeToken(userID, secret), nil
}

func (s *PostgresStore) ResolveIngestToken(token string) (User, error) {
	userID, secret, ok := splitToken(token)
	if !ok {
		return User{}, ErrInvalidIngestToken
	}
	user, found := s.GetUser(userID)
	if !found || user.IngestTokenHash == "" {
		return User{}, ErrInvalidIngestToken
	}
	if err := verifyTokenSecret(user.IngestTokenHash, secret); err != nil {
		return User{}, ErrInvalidIngestToken
	}
	return user, nil
}

func (s *PostgresStore) SaveVideo(video Video) (Video, error) {
	if strings.TrimSpace(video.Name) == "" {
		return Video{}, errors.New("video name is required")
	}
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
	ctx, cancel := s.opContext()
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO catalog_videos
		     (id, name, owner_id, duration_seconds, size_bytes, width, height,
		      video_codec, master_playlist_url, rendition_urls, thumbnails, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     owner_id = EXCLUDED.owner_id,
		     duration_seconds = EXCLUDED.duration_seconds,
		     size_bytes = EXCLUDED.size_bytes,
		     width = EXCLUDED.width,
		     height = EXCLUDED.height,
		     video_codec = EXCLUDED.video_codec,
		     master_playlist_url = EXCLUDED.master_playlist_url,
		     rendition_urls = EXCLUDED.rendition_urls,
		     thumbnails = EXCLUDED.thumbnails`,
		video.ID, video.Name, video.OwnerID, video.DurationSeconds, video.SizeBytes,
		video.Width, video.Height, video.VideoCodec, video.MasterPlaylistURL,
		video.RenditionURLs, video.Thumbnails, video.CreatedAt)
	if err != nil {
		return Video{}, fmt.Errorf("save video: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) GetVideo(id string) (Video, bool) {
	ctx, cancel := s.opContext()
	defer cancel()
	video, err := s.scanVideo(s.pool.QueryRow(ctx, videoSelect+" WHERE id = $1", id))
	if err != nil {
		return Video{}, false
	}
	return video, true
}

func (s *PostgresStore) ListVideos() []Video {
	ctx, cancel := s.opContext()
	defer cancel()
	rows, err := s.pool.Query(ctx, videoSelect+" ORDER BY created_at DESC")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var videos []Video
	for rows.Next() {
		video, err := s.scanVideo(rows)
		if err != nil {
			return nil
		}
		videos = append(videos, video)
	}
	return videos
}

func (s *PostgresStore) DeleteVideo(id string) error {
	ctx, cancel := s.opContext()
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM catalog_videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

const userSelect = `SELECT id, display_name, email, stream_key, ingest_token_hash, created_at FROM catalog_users`

const videoSelect = `SELECT id, name, owner_id, duration_seconds, size_bytes, width, height,
    video_codec, master_playlist_url, rendition_urls, thumbnails, created_at FROM catalog_videos`

func (s *PostgresStore) scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.StreamKey, &user.IngestTokenHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) scanVideo(row pgx.Row) (Video, error) {
	var video Video
	err := row.Scan(&video.ID, &video.Name, &video.OwnerID, &video.DurationSeconds, &video.SizeBytes,
		&video.Width, &video.Height, &video.VideoCodec, &video.MasterPlaylistURL,
		&video.RenditionURLs, &video.Thumbnails, &video.CreatedAt)
	if err != nil {
		return Video{}, err
	}
	return video, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "23505") || strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}
