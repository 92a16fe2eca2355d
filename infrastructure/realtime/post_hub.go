package realtime

import (
	"sync"

	"crosspost/domain/model"
)

// Hub maintains per-user subscribers listening for post status events. An
// outer HTTP layer attaches SSE or WebSocket transports onto Subscribe.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[chan model.PostEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{users: make(map[string]map[chan model.PostEvent]struct{})}
}

// Subscribe registers a buffered listener for one user's events. The returned
// cancel func unregisters the listener and closes the channel; it is safe to
// call more than once.
func (h *Hub) Subscribe(userID string) (<-chan model.PostEvent, func()) {
	ch := make(chan model.PostEvent, 8)

	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan model.PostEvent]struct{})
	}
	h.users[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs := h.users[userID]; subs != nil {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(h.users, userID)
				}
			}
		})
	}
	return ch, cancel
}

// Broadcast delivers the event to every subscriber of its user. Slow
// subscribers with full buffers are skipped rather than blocked on.
func (h *Hub) Broadcast(event model.PostEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.users[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}
