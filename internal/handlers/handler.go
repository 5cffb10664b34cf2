package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/burnroom/internal/api/middleware"
	"github.com/eldtechnologies/burnroom/internal/chat"
	"github.com/eldtechnologies/burnroom/internal/realtime"
)

// Pinger is a dependency the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	chat     *chat.Service
	store    Pinger
	bus      realtime.Broadcaster
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler. checkOrigin decides which browser
// origins may open the realtime stream; nil accepts same-origin only.
func NewHandler(svc *chat.Service, store Pinger, bus realtime.Broadcaster, logger zerolog.Logger, checkOrigin func(r *http.Request) bool) *Handler {
	return &Handler{
		chat:   svc,
		store:  store,
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a chat error to its HTTP response, logging server-side failures.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := middleware.ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("room_id", r.URL.Query().Get("roomId")).
			Msg("request failed")
	}
	h.Error(w, status, message)
}

// membership returns the caller's authorized membership. Routes using it
// are mounted behind AuthMiddleware.RequireMember.
func (h *Handler) membership(w http.ResponseWriter, r *http.Request) (chat.Membership, bool) {
	m, ok := middleware.GetMembership(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "room membership required")
	}
	return m, ok
}
