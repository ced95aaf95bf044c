// Package events is the typed change-notification stream the aggregation
// engine exposes to presentation collaborators: subscribers learn that
// aggregates changed and re-render, instead of listening for stringly-typed
// global events.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	EntryRecorded       Kind = "entry_recorded"
	EntryEdited         Kind = "entry_edited"
	EntryDeleted        Kind = "entry_deleted"
	LeaderboardUpdated  Kind = "leaderboard_updated"
	LeaderboardResynced Kind = "leaderboard_resynced"
	NotificationCreated Kind = "notification_created"
	// WriteReconcile tells presentation to remove or flag the optimistic
	// entry identified by ClientRef: its backing write failed.
	WriteReconcile Kind = "write_reconcile"
)

// Event describes one aggregate-affecting change. Fields not relevant to
// the kind are empty.
type Event struct {
	Kind          Kind
	UserID        string
	EntryID       string
	ClientRef     string
	LeaderboardID string
	At            time.Time
}

// Hub fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses events rather than stalling the
// write path. Subscribers are expected to treat any event as "re-read your
// aggregates", so a dropped event costs one redundant refresh at most.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel func unregisters and closes the channel; it is safe
// to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close unregisters and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
