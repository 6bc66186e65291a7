package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Entry is one published log line.
type Entry struct {
	Seq  uint64
	Kind string
	Line []byte
}

// Subscription is one reader of the hub.
type Subscription struct {
	hub     *Hub
	ch      chan Entry
	dropped atomic.Uint64
	once    sync.Once
}

// C delivers entries in publish order.
func (s *Subscription) C() <-chan Entry { return s.ch }

// TakeDropped returns the number of entries lost since the last call.
func (s *Subscription) TakeDropped() uint64 { return s.dropped.Swap(0) }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
	})
}

// Hub fans log lines out to feed subscribers and keeps a short ring of recent
// lines for backlog requests. Publish never blocks: a subscriber whose buffer
// is full loses the line and is told how many it missed.
type Hub struct {
	mu     sync.Mutex
	seq    uint64
	ring   []Entry
	next   int
	filled bool
	subs   map[*Subscription]struct{}

	bufSize int

	publishedTotal atomic.Uint64
	droppedTotal   atomic.Uint64
}

func NewHub(ringSize, bufSize int) *Hub {
	if ringSize <= 0 {
		ringSize = 1024
	}
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Hub{
		ring:    make([]Entry, ringSize),
		subs:    map[*Subscription]struct{}{},
		bufSize: bufSize,
	}
}

// Publish records line. The slice is retained; callers pass a copy.
func (h *Hub) Publish(line []byte) {
	if h == nil {
		return
	}
	kind := recordKind(line)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	e := Entry{Seq: h.seq, Kind: kind, Line: line}
	h.ring[h.next] = e
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.filled = true
	}
	h.publishedTotal.Add(1)

	for sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			h.droppedTotal.Add(1)
		}
	}
}

// Subscribe registers a subscription and returns up to backlog recent
// entries published before it.
func (h *Hub) Subscribe(backlog int) (*Subscription, []Entry) {
	sub := &Subscription{hub: h, ch: make(chan Entry, h.bufSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	recent := h.recentLocked(backlog)
	h.subs[sub] = struct{}{}
	return sub, recent
}

func (h *Hub) recentLocked(n int) []Entry {
	size := h.next
	if h.filled {
		size = len(h.ring)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	start := h.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out
}

func (h *Hub) LastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type HubStats struct {
	Subscribers    int
	PublishedTotal uint64
	DroppedTotal   uint64
}

func (h *Hub) Stats() HubStats {
	if h == nil {
		return HubStats{}
	}
	return HubStats{
		Subscribers:    h.Subscribers(),
		PublishedTotal: h.publishedTotal.Load(),
		DroppedTotal:   h.droppedTotal.Load(),
	}
}

func recordKind(line []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return ""
	}
	return head.Type
}
