// Package bus fans out debug-trace events to operators watching
// GET /debug/stream (spec.md §9's coroutine-streaming design note: "maps to
// a producer task that writes canonical events into a bounded channel"),
// adapted from the teacher's internal/bus websocket Event/Client shape —
// here rebuilt as the server side of that connection instead of a client.
package bus

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event mirrors the teacher's neural-bus Event, trimmed to what a debug
// trace transition carries.
type Event struct {
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source,omitempty"`
}

const subscriberBuffer = 64

// Hub holds the set of connected /debug/stream subscribers. An event that
// does not fit in a slow subscriber's buffer is discarded for that
// subscriber (which stays subscribed) rather than allowed to block Publish,
// since tracing must never stall the request it is observing.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:      logger,
	}
}

// Publish fans event out to every current subscriber, non-blocking.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *Hub) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	close(ch)
}

// ServeWS upgrades the request and streams events until the client
// disconnects or its context is cancelled.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("bus: websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

// SubscriberCount reports the number of live /debug/stream connections.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
