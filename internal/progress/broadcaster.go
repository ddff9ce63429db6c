package progress

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventStatus        = "status"
	EventPercent       = "percent"
	EventIndeterminate = "indeterminate"
	EventLog           = "log"
)

// Event is one sink call, in a form a host UI can consume.
type Event struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	Percent       int    `json:"percent,omitempty"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// Broadcaster is a Sink that publishes every call as an Event to its
// subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]*subscriber
}

type subscriber struct {
	gone chan struct{}
	once sync.Once
}

func (s *subscriber) leave() { s.once.Do(func() { close(s.gone) }) }

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]*subscriber),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must keep reading until it calls Unsubscribe.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.subscribers[ch] = &subscriber{gone: make(chan struct{})}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. A Publish
// blocked on the subscriber is released first.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.RLock()
	sub, ok := b.subscribers[ch]
	b.mu.RUnlock()
	if !ok {
		return
	}
	sub.leave()

	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers. Percent events are dropped
// for a subscriber whose buffer is full since a later one supersedes
// them; every other event waits until the subscriber has room.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subscribers {
		if event.Type == EventPercent {
			select {
			case ch <- event:
			default:
			}
			continue
		}
		select {
		case ch <- event:
		case <-sub.gone:
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) Status(text string) {
	b.Publish(Event{Type: EventStatus, Text: text})
}

func (b *Broadcaster) Percent(pct int) {
	b.Publish(Event{Type: EventPercent, Percent: Clamp(pct)})
}

func (b *Broadcaster) Indeterminate(on bool) {
	b.Publish(Event{Type: EventIndeterminate, Indeterminate: on})
}

func (b *Broadcaster) Log(line string) {
	b.Publish(Event{Type: EventLog, Text: line})
}

func (b *Broadcaster) Pump() {}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
