package transcode

import (
	"context"
	"errors"
	"sync"
)

// Queue hands finished-recording jobs to the pipeline workers. Each published
// job is delivered to exactly one subscriber; there is no redelivery after a
// job reaches a terminal state.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	Subscribe() Subscription
}

// Subscription represents an active job stream.
type Subscription interface {
	Jobs() <-chan Job
	Close()
}

// NewMemoryQueue initialises an in-process queue suitable for tests and
// single-process deployments. All subscriptions drain one shared channel, so
// a job is only ever delivered once.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &memoryQueue{
		jobs: make(chan Job, buffer),
	}
}

type memoryQueue struct {
	jobs chan Job

	mu     sync.Mutex
	closed bool
}

func (q *memoryQueue) Publish(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue closed")
	}
	q.mu.Unlock()
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Subscribe() Subscription {
	return &memorySubscription{queue: q}
}

type memorySubscription struct {
	queue *memoryQueue
	once  sync.Once
}

func (s *memorySubscription) Jobs() <-chan Job {
	return s.queue.jobs
}

func (s *memorySubscription) Close() {
	// The shared channel stays open for other subscribers; closing a
	// subscription is a no-op for the in-memory queue.
	s.once.Do(func() {})
}
