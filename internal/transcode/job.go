package transcode

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// JobStatus tracks a job through the pipeline.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job describes one finished recording awaiting post-processing. Each enqueue
// is processed at most once; failed jobs are not retried.
type Job struct {
	ID         string    `json:"id"`
	SourceName string    `json:"sourceName"`
	SourcePath string    `json:"sourcePath"`
	Status     JobStatus `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	Error      string    `json:"error,omitempty"`
}

// NewJob builds a queued job for the given recording.
func NewJob(sourceName, sourcePath string) (Job, error) {
	id, err := generateJobID()
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:         id,
		SourceName: sourceName,
		SourcePath: sourcePath,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func generateJobID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
