// Package chat implements the ephemeral room lifecycle: room creation,
// capability-token membership, message relay with TTL resynchronization,
// and explicit room destruction.
//
// All state lives in a store.KV; the Service holds no per-room state and
// every method is safe for concurrent use.
package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/burnroom/internal/crypto"
	"github.com/eldtechnologies/burnroom/internal/realtime"
	"github.com/eldtechnologies/burnroom/internal/store"
)

const (
	DefaultRoomTTL  = 30 * time.Minute
	DefaultCapacity = 2

	fieldConnected = "connected"
	fieldCreatedAt = "createdAt"

	maxIDAttempts = 5
)

// metaKey returns the key for a room's metadata hash.
func metaKey(roomID string) string {
	return "meta:" + roomID
}

// messagesKey returns the key for a room's message log.
func messagesKey(roomID string) string {
	return "messages:" + roomID
}

// historyKey returns the reserved auxiliary history key.
func historyKey(roomID string) string {
	return "history:" + roomID
}

// siblingKeys lists every key whose expiry mirrors meta:{roomID}.
func siblingKeys(roomID string) []string {
	return []string{messagesKey(roomID), historyKey(roomID), roomID}
}

// Options configures a Service.
type Options struct {
	RoomTTL  time.Duration
	Capacity int
}

// Service ties the room registry, authorizer, relay and destroyer to a
// store and a broadcaster.
type Service struct {
	kv       store.KV
	bus      realtime.Broadcaster
	logger   zerolog.Logger
	roomTTL  time.Duration
	capacity int

	now      func() time.Time
	newRoom  func() (string, error)
	newToken func() (string, error)
	newMsgID func() string
}

// NewService creates a Service. Zero options fall back to the defaults.
func NewService(kv store.KV, bus realtime.Broadcaster, logger zerolog.Logger, opts Options) *Service {
	if opts.RoomTTL <= 0 {
		opts.RoomTTL = DefaultRoomTTL
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Service{
		kv:       kv,
		bus:      bus,
		logger:   logger,
		roomTTL:  opts.RoomTTL,
		capacity: opts.Capacity,
		now:      time.Now,
		newRoom:  crypto.NewRoomID,
		newToken: crypto.NewToken,
		newMsgID: crypto.NewMessageID,
	}
}

// RoomTTL returns the lifetime given to new rooms.
func (s *Service) RoomTTL() time.Duration {
	return s.roomTTL
}

// Capacity returns the maximum number of members per room.
func (s *Service) Capacity() int {
	return s.capacity
}
