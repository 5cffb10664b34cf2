package crypto

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/oklog/ulid/v2"
)

// NewRoomID generates an unguessable 21-character room identifier.
func NewRoomID() (string, error) {
	return gonanoid.New()
}

// NewToken generates a capability token for a room member.
func NewToken() (string, error) {
	return gonanoid.New()
}

// NewMessageID generates a lexicographically sortable message ID.
func NewMessageID() string {
	return ulid.Make().String()
}

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
