package models

import "time"

// User represents one participant in the contact roster.
type User struct {
	ID       string     `json:"_id"`
	Username string     `json:"username"`
	Avatar   string     `json:"avatar,omitempty"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// TypingSignal reports that a peer is currently typing.
type TypingSignal struct {
	From     string `json:"from"`
	Username string `json:"username"`
}
