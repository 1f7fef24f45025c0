// Package progress pushes stage-progress events to WebSocket listeners.
package progress

import (
	"log/slog"
	"sync"

	"github.com/ashureev/smartfin/internal/domain"
)

const defaultBuffer = 32

// Hub fans progress events out to every listener of a session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*listener]struct{}
	buffer int
}

type listener struct {
	ch chan domain.Status
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[*listener]struct{}),
		buffer: defaultBuffer,
	}
}

// Subscribe registers a listener for a session. The returned cancel func
// unregisters it and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan domain.Status, func()) {
	l := &listener{ch: make(chan domain.Status, h.buffer)}

	h.mu.Lock()
	if _, ok := h.active[sessionID]; !ok {
		h.active[sessionID] = make(map[*listener]struct{})
	}
	h.active[sessionID][l] = struct{}{}
	h.mu.Unlock()
	slog.Info("Progress listener registered", "session_id", sessionID)

	var once sync.Once
	return l.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if ls, ok := h.active[sessionID]; ok {
				delete(ls, l)
				if len(ls) == 0 {
					delete(h.active, sessionID)
				}
			}
			close(l.ch)
			slog.Info("Progress listener unregistered", "session_id", sessionID)
		})
	}
}

// Notify delivers an event to the session's listeners. Slow listeners miss
// events rather than blocking the request.
func (h *Hub) Notify(sessionID string, s domain.Status) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.active[sessionID] {
		select {
		case l.ch <- s:
		default:
			slog.Debug("Progress listener full, dropping event", "session_id", sessionID, "stage", s.Name)
		}
	}
}

// Listeners returns the number of listeners of a session.
func (h *Hub) Listeners(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}
