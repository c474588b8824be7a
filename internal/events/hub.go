package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the host.
const (
	QueueEnqueued       = "queue.enqueued"
	QueueDispatched     = "queue.dispatched"
	QueueDispatchFailed = "queue.dispatch_failed"
	QueueTimerStarted   = "queue.timer_started"
	QueueTimerStopped   = "queue.timer_stopped"
	DocumentReadyState  = "document.ready_state"
	BootstrapDrained    = "bootstrap.drained"
	ConstructorFailed   = "bootstrap.constructor_failed"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the narrow side of the hub that producers depend on.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub that keeps the most recent events in a ring
// so late subscribers can catch up.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Slow subscribers miss events rather than stall the queue.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a live channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Full: overwrite the oldest slot.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(string, any) {}
