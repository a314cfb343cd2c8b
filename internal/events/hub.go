package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Lifecycle topics published by the leader process and the dispatcher.
const (
	LeaderGranted    = "leader.granted"
	LeaderRevoked    = "leader.revoked"
	LeaderFatal      = "leader.fatal"
	ServicePublished = "service.published"
	ServiceDiscarded = "service.discarded"
	JobSubmitted     = "job.submitted"
	JobRemoved       = "job.removed"
)

const (
	defaultBacklog   = 100
	subscriberBuffer = 64
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// Hub fans events out to live subscribers and keeps a bounded backlog so a
// reconnecting reader can catch up. A nil *Hub drops everything.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	limit   int
	backlog []Event
	subs    map[*subscriber]struct{}
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		limit:   backlog,
		backlog: make([]Event, 0, backlog),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish stamps data with the next ID and delivers it. Subscribers whose
// buffer is full miss the event; the leader process never blocks on readers.
func (h *Hub) Publish(topic string, data any) {
	if h == nil {
		return
	}
	raw := json.RawMessage(`{}`)
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			raw = encoded
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: topic, At: time.Now().UTC(), Data: raw}
	if len(h.backlog) == h.limit {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.limit-1]
	}
	h.backlog = append(h.backlog, ev)

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a live reader. The returned cancel func is idempotent
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	if h == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// SnapshotSince returns backlog events newer than afterID, oldest first.
func (h *Hub) SnapshotSince(afterID int64) []Event {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, ev := range h.backlog {
		if ev.ID > afterID {
			return append([]Event(nil), h.backlog[i:]...)
		}
	}
	return nil
}
