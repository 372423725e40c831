package stats

import "sync"

// ViewerCounts tracks process-local viewer tallies per stream. Counts never go
// below zero even when stop signals outnumber starts.
type ViewerCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewViewerCounts() *ViewerCounts {
	return &ViewerCounts{counts: make(map[string]int)}
}

// StartViewing records one viewer joining the stream and returns the new count.
func (v *ViewerCounts) StartViewing(streamKey string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[streamKey]++
	return v.counts[streamKey]
}

// StopViewing records one viewer leaving and returns the new count.
func (v *ViewerCounts) StopViewing(streamKey string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	count := v.counts[streamKey] - 1
	if count <= 0 {
		delete(v.counts, streamKey)
		return 0
	}
	v.counts[streamKey] = count
	return count
}

// Count returns the current tally for the stream.
func (v *ViewerCounts) Count(streamKey string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts[streamKey]
}
