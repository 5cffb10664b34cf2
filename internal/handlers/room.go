package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/eldtechnologies/burnroom/internal/chat"
	"github.com/eldtechnologies/burnroom/internal/models"
)

// CreateRoomResponse represents the room creation response.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// JoinRoomResponse carries the caller's capability token for a room.
type JoinRoomResponse struct {
	RoomID string `json:"roomId"`
	Token  string `json:"token"`
}

// TTLResponse represents the remaining lifetime of a room.
type TTLResponse struct {
	TTL int64 `json:"ttl"` // seconds, never negative
}

// MessagesResponse represents the get messages response.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// CreateRoom handles room creation. No membership is required.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := h.chat.Create(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, CreateRoomResponse{RoomID: roomID})
}

// JoinRoom returns the caller's token, which the auth middleware has
// already minted if needed.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	m, ok := h.membership(w, r)
	if !ok {
		return
	}

	h.JSON(w, http.StatusOK, JoinRoomResponse{RoomID: m.RoomID, Token: m.Token})
}

// RoomTTL reports how many seconds the room has left.
func (h *Handler) RoomTTL(w http.ResponseWriter, r *http.Request) {
	m, ok := h.membership(w, r)
	if !ok {
		return
	}

	ttl, err := h.chat.RemainingLifetime(r.Context(), m.RoomID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, TTLResponse{TTL: ttl})
}

// DestroyRoom broadcasts the destroy event and deletes the room.
func (h *Handler) DestroyRoom(w http.ResponseWriter, r *http.Request) {
	m, ok := h.membership(w, r)
	if !ok {
		return
	}

	if err := h.chat.Destroy(r.Context(), m.RoomID); err != nil {
		h.Fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PostMessage handles posting a message to a room.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := h.membership(w, r)
	if !ok {
		return
	}

	var req chat.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			h.Error(w, http.StatusBadRequest, "request body is required")
		default:
			h.Error(w, http.StatusBadRequest, "invalid JSON body")
		}
		return
	}

	if _, err := h.chat.Send(r.Context(), m.RoomID, m.Token, req); err != nil {
		h.Fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMessages returns the room's messages with other members' tokens redacted.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	m, ok := h.membership(w, r)
	if !ok {
		return
	}

	messages, err := h.chat.List(r.Context(), m.RoomID, m.Token)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}
