package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// Hub fans room changes out to in-process subscribers. It implements both
// app.ChangePublisher and app.ChangeFeed, and backs the network feeds locally.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan domain.Change]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan domain.Change]struct{})}
}

func (h *Hub) Publish(_ context.Context, change domain.Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[change.RoomCode] {
		select {
		case ch <- change:
		default:
			// Receivers re-fetch wholesale, so a full buffer already guarantees a refresh.
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, roomCode string) (<-chan domain.Change, func(), error) {
	ch := make(chan domain.Change, 16)

	h.mu.Lock()
	subs, ok := h.subscribers[roomCode]
	if !ok {
		subs = make(map[chan domain.Change]struct{})
		h.subscribers[roomCode] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[roomCode]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, roomCode)
		}
	}
	return ch, cancel, nil
}

// Subscribers reports how many feeds are open for a room.
func (h *Hub) Subscribers(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[roomCode])
}
