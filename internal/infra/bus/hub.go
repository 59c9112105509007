package bus

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Subscription is one client session's view of the bus. Events arrive on C
// until Close; a slow consumer may lose events (its channel is bounded),
// which is safe because every consumer reconciles against the store on its
// poll cadence anyway.
type Subscription struct {
	C      chan Event
	userID string
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub routes change events to the subscribers of every participant of the
// affected conversation. One hub per process; cross-instance delivery is
// the fanout's job.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		byUser: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		C:      make(chan Event, subscriberBuffer),
		userID: userID,
		hub:    h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.byUser[userID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byUser[sub.userID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.byUser, sub.userID)
		}
	}
	close(sub.C)
}

// Deliver pushes the event to every subscription of every participant.
// Non-blocking: full channels are skipped, the poll catches those clients
// up.
func (h *Hub) Deliver(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range event.Participants {
		for sub := range h.byUser[userID] {
			select {
			case sub.C <- event:
			default:
				if h.logger != nil {
					h.logger.Debug("dropping change event for slow subscriber", "user_id", userID, "conversation_id", event.ConversationID)
				}
			}
		}
	}
}

// Subscribers reports how many sessions a user currently holds.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
