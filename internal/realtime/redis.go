package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroadcaster uses Redis pub/sub, one channel per room.
type RedisBroadcaster struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisBroadcaster creates a broadcaster publishing on prefix+roomID.
func NewRedisBroadcaster(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, prefix: prefix, logger: logger}
}

func (b *RedisBroadcaster) channel(roomID string) string {
	return b.prefix + roomID
}

// Publish sends an event to every current subscriber of the room.
func (b *RedisBroadcaster) Publish(ctx context.Context, roomID, event string, payload interface{}) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(roomID), data).Err()
}

// Ping checks the Redis connection.
func (b *RedisBroadcaster) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Subscribe opens a pub/sub subscription for the room. The subscription is
// confirmed before returning so no event published afterwards is missed.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go sub.run(ctx, b.logger.With().Str("room_id", roomID).Logger())
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) run(ctx context.Context, logger zerolog.Logger) {
	defer close(s.events)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Msg("dropping undecodable event")
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			case <-ctx.Done():
				s.Close()
				return
			}
		}
	}
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
