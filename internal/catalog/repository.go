package catalog

import (
	"context"
	"errors"
)

var (
	// ErrUserNotFound is returned when a lookup misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailInUse is returned when creating a user with a taken email.
	ErrEmailInUse = errors.New("email already in use")
	// ErrInvalidIngestToken is returned when an ingest token does not
	// resolve to a user. Callers drop the connection's media silently.
	ErrInvalidIngestToken = errors.New("invalid ingest token")
	// ErrVideoNotFound is returned when a video lookup misses.
	ErrVideoNotFound = errors.New("video not found")
)

// CreateUserParams captures the attributes set when creating a user.
type CreateUserParams struct {
	DisplayName string
	Email       string
}

// Repository is the catalog collaborator: users with stream keys and ingest
// tokens, plus the video records the pipeline persists.
type Repository interface {
	CreateUser(params CreateUserParams) (User, error)
	GetUser(id string) (User, bool)
	FindUserByStreamKey(streamKey string) (User, bool)
	ListUsers() []User
	// RotateStreamKey replaces the user's stream key; the old key stops
	// resolving immediately.
	RotateStreamKey(userID string) (User, error)
	// IssueIngestToken mints a new opaque ingest token for the user and
	// stores only its hash. The returned token is shown once.
	IssueIngestToken(userID string) (string, error)
	// ResolveIngestToken maps a presented token back to its user, or
	// ErrInvalidIngestToken.
	ResolveIngestToken(token string) (User, error)

	SaveVideo(video Video) (Video, error)
	GetVideo(id string) (Video, bool)
	ListVideos() []Video
	DeleteVideo(id string) error

	Close(ctx context.Context) error
}
