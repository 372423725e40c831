package stats

import "sync"

// Hub fans freshly aggregated sample windows out to per-stream subscribers.
// Publishes never block: a subscriber that cannot keep up misses the update
// and catches up on the next tick.
type Hub struct {
	mu      sync.Mutex
	streams map[string]map[int]chan []Sample
	nextID  int
}

func NewHub() *Hub {
	return &Hub{streams: make(map[string]map[int]chan []Sample)}
}

// Subscribe registers interest in one stream's updates. The returned cancel
// func must be called when the subscriber goes away.
func (h *Hub) Subscribe(streamKey string, buffer int) (<-chan []Sample, func()) {
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan []Sample, buffer)
	h.mu.Lock()
	subs, ok := h.streams[streamKey]
	if !ok {
		subs = make(map[int]chan []Sample)
		h.streams[streamKey] = subs
	}
	id := h.nextID
	h.nextID++
	subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.streams[streamKey]
		if !ok {
			return
		}
		if _, present := subs[id]; !present {
			return
		}
		delete(subs, id)
		close(ch)
		if len(subs) == 0 {
			delete(h.streams, streamKey)
		}
	}
	return ch, cancel
}

// Publish delivers the window to every subscriber of the stream. Each
// subscriber receives its own copy.
func (h *Hub) Publish(streamKey string, window []Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.streams[streamKey] {
		copied := make([]Sample, len(window))
		copy(copied, window)
		select {
		case ch <- copied:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions for the stream.
func (h *Hub) Subscribers(streamKey string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[streamKey])
}
