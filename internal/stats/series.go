package stats

import (
	"context"
	"sort"
	"sync"
)

// Series stores per-stream sample history. Upsert replaces any sample already
// recorded for the same bucket so each minute holds at most one point.
type Series interface {
	Upsert(ctx context.Context, sample Sample) error
	// Window returns samples with Timestamp >= since, oldest first.
	Window(ctx context.Context, streamKey string, since int64) ([]Sample, error)
	// Prune drops samples older than before across all streams.
	Prune(ctx context.Context, before int64) error
	Close() error
}

// NewMemorySeries returns an in-process Series.
func NewMemorySeries() Series {
	return &memorySeries{streams: make(map[string][]Sample)}
}

type memorySeries struct {
	mu      sync.RWMutex
	streams map[string][]Sample
}

func (s *memorySeries) Upsert(ctx context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := s.streams[sample.StreamKey]
	for i := range samples {
		if samples[i].Timestamp == sample.Timestamp {
			samples[i] = sample
			return nil
		}
	}
	samples = append(samples, sample)
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp < samples[j].Timestamp })
	s.streams[sample.StreamKey] = samples
	return nil
}

func (s *memorySeries) Window(ctx context.Context, streamKey string, since int64) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Sample
	for _, sample := range s.streams[streamKey] {
		if sample.Timestamp >= since {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (s *memorySeries) Prune(ctx context.Context, before int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, samples := range s.streams {
		kept := samples[:0]
		for _, sample := range samples {
			if sample.Timestamp >= before {
				kept = append(kept, sample)
			}
		}
		if len(kept) == 0 {
			delete(s.streams, key)
			continue
		}
		s.streams[key] = kept
	}
	return nil
}

func (s *memorySeries) Close() error {
	return nil
}
