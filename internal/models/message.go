package models

// Message represents a chat message stored in a room's message log.
type Message struct {
	ID        string `json:"id"` // ULID
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // Unix ms
	RoomID    string `json:"roomId"`
	Token     string `json:"token,omitempty"` // author's capability token
}

// RedactedFor returns a copy of m that keeps the author token only when the
// caller holds it.
func (m Message) RedactedFor(callerToken string) Message {
	if callerToken == "" || m.Token != callerToken {
		m.Token = ""
	}
	return m
}

// DestroyNotice is the payload of a chat.destroy event.
type DestroyNotice struct {
	IsDestroyed bool `json:"isDestroyed"`
}
