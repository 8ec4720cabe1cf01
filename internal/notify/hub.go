package notify

import (
	"context"
	"sync"
)

// Hub is an in-process publisher and subscriber, used when no Redis is configured.
// Slow subscribers miss events rather than block publishers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*hubSubscription
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[int]*hubSubscription{}}
}

func (h *Hub) Publish(_ context.Context, ev StatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs[ev.OrderID] {
		select {
		case s.events <- ev:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, orderID string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &hubSubscription{hub: h, orderID: orderID, id: h.nextID, events: make(chan StatusEvent, 8)}
	if h.subs[orderID] == nil {
		h.subs[orderID] = map[int]*hubSubscription{}
	}
	h.subs[orderID][s.id] = s
	return s, nil
}

// Subscribers returns the number of open subscriptions for an order.
func (h *Hub) Subscribers(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orderID])
}

type hubSubscription struct {
	hub     *Hub
	orderID string
	id      int
	events  chan StatusEvent
	once    sync.Once
}

func (s *hubSubscription) Events() <-chan StatusEvent { return s.events }

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		delete(s.hub.subs[s.orderID], s.id)
		if len(s.hub.subs[s.orderID]) == 0 {
			delete(s.hub.subs, s.orderID)
		}
		close(s.events)
	})
	return nil
}
