package engine

import (
	"sync"
	"time"

	"github.com/arenabot/arenabot/internal/model"
)

// Event is one step in a session's lifecycle, published for operator
// surfaces (HTTP event stream, logs).
type Event struct {
	Session   string          `json:"session"`
	Channel   model.ChannelID `json:"channel"`
	Type      string          `json:"type"` // "status", "phase", "error", "completed", "aborted"
	Data      string          `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventBus provides in-memory pub/sub for session events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string][]chan Event)}
}

// Subscribe creates a channel that receives events for a session.
func (b *EventBus) Subscribe(sessionID string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	return ch
}

// Unsubscribe removes a channel from the session's subscribers.
func (b *EventBus) Unsubscribe(sessionID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sessionID]
	for i, s := range subs {
		if s == ch {
			b.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers for a session.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Session] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
