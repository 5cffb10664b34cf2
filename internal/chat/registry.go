package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/eldtechnologies/burnroom/internal/metrics"
	"github.com/eldtechnologies/burnroom/internal/models"
)

// Create allocates a new room with an empty member list and the configured
// lifetime, and returns its identifier.
func (s *Service) Create(ctx context.Context) (string, error) {
	roomID, err := s.allocateRoomID(ctx)
	if err != nil {
		return "", err
	}

	err = s.kv.HSet(ctx, metaKey(roomID), map[string]string{
		fieldConnected: "[]",
		fieldCreatedAt: strconv.FormatInt(s.now().UnixMilli(), 10),
	}, s.roomTTL)
	if err != nil {
		return "", storeErr("create room", err)
	}

	metrics.RoomsCreated.Inc()
	s.logger.Debug().Str("room_id", roomID).Dur("ttl", s.roomTTL).Msg("room created")
	return roomID, nil
}

// allocateRoomID draws identifiers until one is not in use.
func (s *Service) allocateRoomID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		roomID, err := s.newRoom()
		if err != nil {
			return "", err
		}
		exists, err := s.kv.Exists(ctx, metaKey(roomID))
		if err != nil {
			return "", storeErr("check room id", err)
		}
		if !exists {
			return roomID, nil
		}
		s.logger.Warn().Str("room_id", roomID).Msg("room id collision, regenerating")
	}
	return "", errIDSpaceExhausted
}

// RemainingLifetime returns the whole seconds left before the room expires.
// Unknown and expired rooms report 0, the same as a room about to expire.
func (s *Service) RemainingLifetime(ctx context.Context, roomID string) (int64, error) {
	ttl, err := s.kv.TTL(ctx, metaKey(roomID))
	if err != nil {
		return 0, storeErr("read ttl", err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return int64(ttl / time.Second), nil
}

// Room loads a room's metadata. Returns ErrRoomNotFound if it has expired.
func (s *Service) Room(ctx context.Context, roomID string) (*models.Room, error) {
	if roomID == "" {
		return nil, ErrRoomNotFound
	}

	fields, err := s.kv.HGetAll(ctx, metaKey(roomID))
	if err != nil {
		return nil, storeErr("load room", err)
	}
	if len(fields) == 0 {
		return nil, ErrRoomNotFound
	}

	room := &models.Room{ID: roomID}
	if raw := fields[fieldConnected]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &room.Connected); err != nil {
			return nil, storeErr("decode members", err)
		}
	}
	room.CreatedAt, _ = strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	return room, nil
}
