package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

const subscriberBuffer = 64

// Hub is an in-process broadcaster used when no Redis is configured.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	// subscribers per room
	rooms map[string]map[*hubSubscription]struct{}

	closed bool

	sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*hubSubscription]struct{})}
}

// Publish delivers an event to the room's current subscribers without blocking.
func (h *Hub) Publish(ctx context.Context, roomID, event string, payload interface{}) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	h.RLock()
	defer h.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.rooms[roomID] {
		select {
		case sub.events <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for the room.
func (h *Hub) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	h.Lock()
	defer h.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &hubSubscription{
		hub:    h,
		roomID: roomID,
		events: make(chan Event, subscriberBuffer),
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*hubSubscription]struct{})
	}
	h.rooms[roomID][sub] = struct{}{}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Ping reports whether the hub still accepts events.
func (h *Hub) Ping(ctx context.Context) error {
	h.RLock()
	defer h.RUnlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

// Close detaches every subscriber.
func (h *Hub) Close() {
	h.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*hubSubscription]struct{})
	h.closed = true
	h.Unlock()

	for _, subs := range rooms {
		for sub := range subs {
			sub.Close()
		}
	}
}

func (h *Hub) remove(sub *hubSubscription) {
	h.Lock()
	defer h.Unlock()
	subs := h.rooms[sub.roomID]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.rooms, sub.roomID)
	}
}

type hubSubscription struct {
	hub    *Hub
	roomID string
	events chan Event
	once   sync.Once
}

func (s *hubSubscription) Events() <-chan Event {
	return s.events
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		// Publish holds the read lock while sending, so closing after
		// remove cannot race a send.
		close(s.events)
	})
	return nil
}
