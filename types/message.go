package types

import "time"

// ChatMessage is a normalized chat message of a room.
type ChatMessage struct {
	Content     string     `json:"content"`
	UserId      string     `json:"user_id,omitempty"`
	AuthorName  string     `json:"author_name"`
	AuthorEmail string     `json:"author_email,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Self        bool       `json:"-"` // sent by the local user
	Raw         Record     `json:"-"`
}
