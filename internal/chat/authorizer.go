package chat

import (
	"context"
	"errors"

	"github.com/eldtechnologies/burnroom/internal/metrics"
	"github.com/eldtechnologies/burnroom/internal/store"
)

// Membership is the result of a successful authorization.
type Membership struct {
	RoomID string
	Token  string
	Issued bool // the token was minted by this request
}

// Authorize checks that roomID exists and token belongs to one of its
// members. A caller without a valid token joins the room and receives a
// fresh token, unless the room is at capacity.
func (s *Service) Authorize(ctx context.Context, roomID, token string) (Membership, error) {
	room, err := s.Room(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			metrics.JoinsTotal.WithLabelValues("not_found").Inc()
		}
		return Membership{}, err
	}

	if room.IsMember(token) {
		return Membership{RoomID: roomID, Token: token}, nil
	}

	if len(room.Connected) >= s.capacity {
		metrics.JoinsTotal.WithLabelValues("full").Inc()
		return Membership{}, ErrRoomFull
	}

	minted, err := s.newToken()
	if err != nil {
		return Membership{}, err
	}

	// The capacity check above is advisory; AppendMember enforces it
	// atomically against concurrent joins.
	added, err := s.kv.AppendMember(ctx, metaKey(roomID), fieldConnected, minted, s.capacity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.JoinsTotal.WithLabelValues("not_found").Inc()
		return Membership{}, ErrRoomNotFound
	case err != nil:
		return Membership{}, storeErr("join room", err)
	case !added:
		metrics.JoinsTotal.WithLabelValues("full").Inc()
		return Membership{}, ErrRoomFull
	}

	metrics.JoinsTotal.WithLabelValues("joined").Inc()
	s.logger.Debug().Str("room_id", roomID).Int("members", len(room.Connected)+1).Msg("member joined")
	return Membership{RoomID: roomID, Token: minted, Issued: true}, nil
}
