package models

// Room is the metadata hash stored under meta:{roomId}.
type Room struct {
	ID        string   `json:"roomId"`
	Connected []string `json:"connected"` // member capability tokens
	CreatedAt int64    `json:"createdAt"` // Unix ms
}

// IsMember reports whether token belongs to a current member.
func (r *Room) IsMember(token string) bool {
	if token == "" {
		return false
	}
	for _, t := range r.Connected {
		if t == token {
			return true
		}
	}
	return false
}
