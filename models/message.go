package models

import "time"

// MessageType identifies the payload shape carried by a message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeEmoji    MessageType = "emoji"
	MessageTypeGif      MessageType = "gif"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeFile     MessageType = "file"
	MessageTypeLocation MessageType = "location"
	MessageTypeWebview  MessageType = "webview"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeEmoji, MessageTypeGif, MessageTypeSticker,
		MessageTypeFile, MessageTypeLocation, MessageTypeWebview:
		return true
	default:
		return false
	}
}

// Message is one conversation entry as delivered by the server.
//
// Identity is the server-assigned ID; payload fields beyond Text are only
// populated for the matching message type.
type Message struct {
	ID   string      `json:"_id"`
	From string      `json:"from"`
	To   string      `json:"to"`
	Type MessageType `json:"type"`

	Text string `json:"text,omitempty"`

	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileType string `json:"fileType,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	IsLive    bool    `json:"isLive,omitempty"`

	WebURL         string `json:"webUrl,omitempty"`
	WebTitle       string `json:"webTitle,omitempty"`
	WebDescription string `json:"webDescription,omitempty"`
	WebImageURL    string `json:"webImageUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	Delivered bool `json:"delivered"`
	Seen      bool `json:"seen"`

	DeletedBy []string `json:"deletedBy,omitempty"`

	ReplyID   string `json:"replyId,omitempty"`
	ReplyText string `json:"replyText,omitempty"`
}

// DeletedByUser reports whether participantID has soft-deleted the message.
func (m Message) DeletedByUser(participantID string) bool {
	for _, id := range m.DeletedBy {
		if id == participantID {
			return true
		}
	}
	return false
}

// MarkDeletedBy records a soft delete by participantID. Repeated marks by
// the same participant are no-ops.
func (m *Message) MarkDeletedBy(participantID string) {
	if participantID == "" || m.DeletedByUser(participantID) {
		return
	}
	m.DeletedBy = append(m.DeletedBy, participantID)
}

// VisibleTo reports whether viewerID should still see the message.
//
// A sender-side soft delete hides the message from both participants; a
// receiver-side soft delete hides it from the receiver only.
func (m Message) VisibleTo(viewerID string) bool {
	if len(m.DeletedBy) == 0 {
		return true
	}
	if m.DeletedByUser(m.From) {
		return false
	}
	if m.From != viewerID && m.DeletedByUser(viewerID) {
		return false
	}
	return true
}
