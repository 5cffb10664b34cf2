package chat

import (
	"context"

	"github.com/eldtechnologies/burnroom/internal/metrics"
	"github.com/eldtechnologies/burnroom/internal/models"
	"github.com/eldtechnologies/burnroom/internal/realtime"
)

// Destroy tells connected clients the room is gone, then deletes every key
// the room owns. Deletion proceeds even if the broadcast fails, and
// destroying an absent room is a no-op apart from the broadcast.
func (s *Service) Destroy(ctx context.Context, roomID string) error {
	err := s.bus.Publish(ctx, roomID, realtime.EventDestroy, models.DestroyNotice{IsDestroyed: true})
	if err != nil {
		s.broadcastFailed(roomID, realtime.EventDestroy, err)
	}

	keys := append([]string{metaKey(roomID)}, siblingKeys(roomID)...)
	if err := s.kv.Del(ctx, keys...); err != nil {
		return storeErr("delete room", err)
	}

	metrics.RoomsDestroyed.Inc()
	s.logger.Info().Str("room_id", roomID).Msg("room destroyed")
	return nil
}
