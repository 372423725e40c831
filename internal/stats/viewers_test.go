package stats

import (
	"sync"
	"testing"
)

func TestViewerCountsFloorAtZero(t *testing.T) {
	viewers := NewViewerCounts()

	if got := viewers.Count("abc"); got != 0 {
		t.Fatalf("fresh stream should count 0, got %d", got)
	}

	if got := viewers.StartViewing("abc"); got != 1 {
		t.Fatalf("first viewer: got %d", got)
	}
	if got := viewers.StartViewing("abc"); got != 2 {
		t.Fatalf("second viewer: got %d", got)
	}
	if got := viewers.StopViewing("abc"); got != 1 {
		t.Fatalf("after one stop: got %d", got)
	}
	if got := viewers.StopViewing("abc"); got != 0 {
		t.Fatalf("after last stop: got %d", got)
	}

	// Extra stops must never push the count negative.
	if got := viewers.StopViewing("abc"); got != 0 {
		t.Fatalf("surplus stop: got %d", got)
	}
	if got := viewers.Count("abc"); got != 0 {
		t.Fatalf("count after surplus stop: got %d", got)
	}
}

func TestViewerCountsConcurrent(t *testing.T) {
	viewers := NewViewerCounts()

	var wg sync.WaitGroup
	wg.Add(200)
	for i := 0; i < 100; i++ {
		go func() {
			defer wg.Done()
			viewers.StartViewing("abc")
		}()
		go func() {
			defer wg.Done()
			viewers.StartViewing("xyz")
		}()
	}
	wg.Wait()

	if got := viewers.Count("abc"); got != 100 {
		t.Fatalf("abc: got %d want 100", got)
	}
	if got := viewers.Count("xyz"); got != 100 {
		t.Fatalf("xyz: got %d want 100", got)
	}
}
