// Package events fans instance lifecycle and config-change notifications out
// to any number of subscribers (the websocket stream, tests, the CLI).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// Type identifies what happened
type Type string

const (
	InstanceStarted  Type = "instance.started"
	InstanceStopping Type = "instance.stopping"
	InstanceStopped  Type = "instance.stopped"
	InstanceFailed   Type = "instance.failed"
	ConfigChanged    Type = "config.changed"
)

// Event is a single notification
type Event struct {
	ID        string           `json:"id"`
	Type      Type             `json:"type"`
	Network   string           `json:"network,omitempty"`
	ServerID  uint64           `json:"server_id,omitempty"`
	Addresses []domain.Address `json:"addresses,omitempty"`
	Message   string           `json:"message,omitempty"`
	Time      time.Time        `json:"time"`
}

// Publisher accepts events. The orchestrator depends on this, not on Hub.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Hub delivers every published event to all current subscribers. A
// subscriber whose buffer is full misses events rather than blocking the
// publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextSub uint64
	dropped atomic.Uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and must be called once the subscriber is done.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish stamps the event and hands it to every subscriber
func (h *Hub) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
