package chat

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eldtechnologies/burnroom/internal/metrics"
	"github.com/eldtechnologies/burnroom/internal/models"
	"github.com/eldtechnologies/burnroom/internal/realtime"
)

// Message bounds, in characters.
const (
	MaxSenderLength = 100
	MaxTextLength   = 1000
)

// SendRequest is the client-controlled part of a new message.
type SendRequest struct {
	Sender string `json:"sender" validate:"required,max=100"`
	Text   string `json:"text" validate:"required,max=1000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the request against the message bounds.
func (r SendRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "message", Reason: "is malformed"}
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: fe.Field(), Reason: "is required"}
	case "max":
		return &ValidationError{Field: fe.Field(), Reason: "must be at most " + fe.Param() + " characters"}
	default:
		return &ValidationError{Field: fe.Field(), Reason: "is invalid"}
	}
}

// Send persists a message authored by token and notifies the room.
//
// The message log and auxiliary keys are re-expired to the metadata key's
// remaining lifetime so they all vanish together. Failures after the append
// are logged and do not fail the send.
func (s *Service) Send(ctx context.Context, roomID, token string, req SendRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.kv.Exists(ctx, metaKey(roomID))
	if err != nil {
		return nil, storeErr("check room", err)
	}
	if !exists {
		return nil, ErrRoomNotFound
	}

	msg := &models.Message{
		ID:        s.newMsgID(),
		Sender:    req.Sender,
		Text:      req.Text,
		Timestamp: s.now().UnixMilli(),
		RoomID:    roomID,
		Token:     token,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := s.kv.RPush(ctx, messagesKey(roomID), string(data)); err != nil {
		return nil, storeErr("append message", err)
	}
	metrics.MessagesSent.Inc()

	s.resyncTTL(ctx, roomID)

	if err := s.bus.Publish(ctx, roomID, realtime.EventMessage, msg); err != nil {
		s.broadcastFailed(roomID, realtime.EventMessage, err)
	}

	return msg, nil
}

// resyncTTL copies the metadata key's remaining lifetime onto the sibling
// keys. The TTL is re-read on every send rather than fixed at creation, so a
// send racing the room's expiry propagates a spent TTL, which deletes the
// siblings immediately while metadata may linger for up to a second.
func (s *Service) resyncTTL(ctx context.Context, roomID string) {
	remaining, err := s.kv.TTL(ctx, metaKey(roomID))
	if err != nil {
		metrics.TTLResyncFailures.Inc()
		s.logger.Error().Err(err).Str("room_id", roomID).Msg("ttl resync failed: read")
		return
	}
	if remaining < 0 {
		// Room expired after the existence check; expiring the siblings
		// now removes the orphaned append.
		remaining = 0
	}
	remaining = remaining.Truncate(time.Second)

	for _, key := range siblingKeys(roomID) {
		if err := s.kv.Expire(ctx, key, remaining); err != nil {
			metrics.TTLResyncFailures.Inc()
			s.logger.Error().Err(err).Str("room_id", roomID).Str("key", key).Msg("ttl resync failed: expire")
		}
	}
}

// List returns the room's messages in insertion order, with the author
// token kept only on messages written by callerToken.
func (s *Service) List(ctx context.Context, roomID, callerToken string) ([]models.Message, error) {
	raw, err := s.kv.LRange(ctx, messagesKey(roomID), 0, -1)
	if err != nil {
		return nil, storeErr("read messages", err)
	}

	messages := make([]models.Message, 0, len(raw))
	for _, data := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("skipping undecodable message")
			continue
		}
		messages = append(messages, msg.RedactedFor(callerToken))
	}
	return messages, nil
}

func (s *Service) broadcastFailed(roomID, event string, err error) {
	metrics.BroadcastFailures.WithLabelValues(event).Inc()
	s.logger.Warn().
		Err(errors.Join(ErrBroadcastFailure, err)).
		Str("room_id", roomID).
		Str("event", event).
		Msg("broadcast failed")
}
