package dashboard

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zulandar/warden/internal/state"
)

// subscriberBuffer bounds each client's backlog; a slow client misses
// events rather than blocking publishers.
const subscriberBuffer = 64

// Hub fans out push events to connected dashboard clients. It is also an
// io.Writer so the process log can be teed into it.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan sseEvent
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan sseEvent)}
}

// Subscribe registers a client and returns its ID and event channel.
func (h *Hub) Subscribe() (string, <-chan sseEvent) {
	id := uuid.NewString()
	ch := make(chan sseEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a client.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish sends an event to every client.
func (h *Hub) Publish(event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- sseEvent{Event: event, Data: data}:
		default:
		}
	}
}

// Write publishes each non-empty line of p as a botlog event.
func (h *Hub) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			h.Publish(eventBotLog, line)
		}
	}
	return len(p), nil
}

// FollowJoined publishes a groupsUpdate event whenever j changes.
func (h *Hub) FollowJoined(j *state.JoinedSet) {
	j.OnChange(func(ids []string) { h.Publish(eventGroups, ids) })
}
