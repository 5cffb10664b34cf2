package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/burnroom/internal/api/middleware"
	"github.com/eldtechnologies/burnroom/internal/crypto"
	"github.com/eldtechnologies/burnroom/internal/metrics"
	"github.com/eldtechnologies/burnroom/internal/models"
	"github.com/eldtechnologies/burnroom/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
)

// Stream upgrades to a websocket and forwards the room's events until the
// room is destroyed or the client goes away. Clients only listen; anything
// they send is discarded.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	m, ok := h.membership(w, r)
	if !ok {
		return
	}

	// Subscribe before upgrading so a failure can still be reported as JSON.
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.bus.Subscribe(ctx, m.RoomID)
	if err != nil {
		cancel()
		h.logger.Error().Err(err).Str("room_id", m.RoomID).Msg("subscribe failed")
		h.Error(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}

	// Carry a freshly minted token over to the 101 response.
	var header http.Header
	if m.Issued {
		header = http.Header{}
		header.Set(middleware.TokenHeader, m.Token)
		for _, c := range w.Header().Values("Set-Cookie") {
			header.Add("Set-Cookie", c)
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already written an error response.
		cancel()
		sub.Close()
		return
	}

	logger := h.logger.With().
		Str("room_id", m.RoomID).
		Str("conn_id", crypto.NewUUIDv7().String()).
		Logger()
	logger.Debug().Msg("stream opened")
	metrics.StreamConnections.Inc()

	go readPump(conn, cancel, logger)
	h.writePump(ctx, conn, sub, m.Token)

	cancel()
	sub.Close()
	conn.Close()
	metrics.StreamConnections.Dec()
	logger.Debug().Msg("stream closed")
}

// readPump drains the connection so pongs and close frames are processed,
// cancelling the stream when the client disconnects.
func readPump(conn *websocket.Conn, cancel context.CancelFunc, logger zerolog.Logger) {
	defer cancel()

	conn.SetReadLimit(maxInboundSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("stream read error")
			}
			return
		}
	}
}

// writePump forwards events and keeps the connection alive with pings.
// Message events are redacted for the subscriber holding token.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sub realtime.Subscription, token string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"))
				return
			}
			if ev.Name == realtime.EventMessage {
				ev = redactEvent(ev, token)
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Name == realtime.EventDestroy {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room destroyed"))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// redactEvent strips the author token from a message event unless the
// subscriber wrote it. Undecodable payloads are dropped to an empty object.
func redactEvent(ev realtime.Event, token string) realtime.Event {
	var msg models.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		ev.Data = json.RawMessage(`{}`)
		return ev
	}
	data, err := json.Marshal(msg.RedactedFor(token))
	if err != nil {
		ev.Data = json.RawMessage(`{}`)
		return ev
	}
	ev.Data = data
	return ev
}
