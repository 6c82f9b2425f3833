// Package progress is a small in-process fan-out bus. The ingestion driver
// and pipeline stages publish events; the websocket endpoint relays them.
package progress

import (
	"sync"
	"time"
)

// Event is one progress update.
type Event struct {
	Time    time.Time `json:"time"`
	Phase   string    `json:"phase"` // scrape, stage name, materialize, idle
	Message string    `json:"message,omitempty"`
	Date    string    `json:"date,omitempty"`
	Count   int       `json:"count,omitempty"`
	Total   int       `json:"total,omitempty"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks; a slow
// subscriber loses events rather than stalling the pipeline.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	last Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Publish delivers the event to all current subscribers.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = e
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Last returns the most recently published event.
func (b *Bus) Last() Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it; the channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
