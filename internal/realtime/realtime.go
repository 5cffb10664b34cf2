// Package realtime delivers room events to connected clients over a
// best-effort publish/subscribe transport with one channel per room.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// Event names published on a room channel.
const (
	EventMessage = "chat.message"
	EventDestroy = "chat.destroy"
)

// ErrClosed is returned when publishing on or subscribing to a closed broadcaster.
var ErrClosed = errors.New("realtime: broadcaster closed")

// Event is the wire envelope of a room event.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Broadcaster publishes named events to a room's channel.
// Publish is fire-and-forget: no acknowledgement and no retry.
type Broadcaster interface {
	Publish(ctx context.Context, roomID, event string, payload interface{}) error
	Subscribe(ctx context.Context, roomID string) (Subscription, error)
	Ping(ctx context.Context) error
}

// Subscription streams events for a single room until closed or its
// context ends, after which Events is closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

func encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Name: event, Data: data})
}
