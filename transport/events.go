package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatsync/models"
)

// Wire event names, server to client.
const (
	EventUsersUpdated    = "users:updated"
	EventMessage         = "message"
	EventConversation    = "conversation"
	EventMessagesPending = "messages:pending"
	EventMessageDeleted  = "message:deleted"
	EventTyping          = "typing"
	EventError           = "error"
)

// Wire event names, client to server.
const (
	EventSendMessage     = "message"
	EventSendTyping      = "typing"
	EventGetConversation = "get:conversation"
	EventDeleteMessage   = "delete:message"
)

var (
	// ErrUnknownEvent indicates an event name this client does not consume.
	ErrUnknownEvent = errors.New("transport: unknown event")
	// ErrMalformedEvent indicates a payload missing required fields.
	ErrMalformedEvent = errors.New("transport: malformed event payload")
)

// Envelope is the wire frame wrapping every named event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is one inbound occurrence delivered on the client's event channel.
// The concrete type identifies the event kind.
type Event interface {
	eventName() string
}

// RosterEvent replaces the contact roster wholesale.
type RosterEvent struct {
	Users []models.User
}

// MessageEvent delivers one live message.
type MessageEvent struct {
	Message models.Message
}

// ConversationEvent delivers a full conversation snapshot.
type ConversationEvent struct {
	Messages []models.Message
}

// PendingMessagesEvent delivers messages queued while the client was offline.
type PendingMessagesEvent struct {
	Messages []models.Message
}

// MessageDeletedEvent confirms a durable server-side deletion.
type MessageDeletedEvent struct {
	ID        string
	DeletedBy string
}

// TypingEvent reports a peer typing signal.
type TypingEvent struct {
	From     string
	Username string
}

// ConnectedEvent signals the connection is established.
type ConnectedEvent struct{}

// DisconnectedEvent signals the connection dropped.
type DisconnectedEvent struct{}

// ErrorEvent surfaces a non-fatal transport or server error.
type ErrorEvent struct {
	Message string
}

func (RosterEvent) eventName() string          { return EventUsersUpdated }
func (MessageEvent) eventName() string         { return EventMessage }
func (ConversationEvent) eventName() string    { return EventConversation }
func (PendingMessagesEvent) eventName() string { return EventMessagesPending }
func (MessageDeletedEvent) eventName() string  { return EventMessageDeleted }
func (TypingEvent) eventName() string          { return EventTyping }
func (ConnectedEvent) eventName() string       { return "connect" }
func (DisconnectedEvent) eventName() string    { return "disconnect" }
func (ErrorEvent) eventName() string           { return EventError }

// SendMessagePayload is the outbound send-message body.
type SendMessagePayload struct {
	To   string             `json:"to"`
	Text string             `json:"text,omitempty"`
	Type models.MessageType `json:"type,omitempty"`

	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

// TypingPayload is the outbound typing-state body.
type TypingPayload struct {
	To     string `json:"to"`
	Typing bool   `json:"typing"`
}

// GetConversationPayload requests a conversation snapshot for one peer.
type GetConversationPayload struct {
	WithUserID string `json:"withUserId"`
}

// DeleteMessagePayload requests server-side deletion of one message.
type DeleteMessagePayload struct {
	ID string `json:"id"`
}

// DecodeEvent parses one wire frame into a typed Event.
//
// Payloads missing required fields return ErrMalformedEvent so callers can
// drop them without mutating state.
func DecodeEvent(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMalformedEvent
	}

	switch env.Event {
	case EventUsersUpdated:
		var users []models.User
		if err := json.Unmarshal(env.Data, &users); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		return RosterEvent{Users: users}, nil

	case EventMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		if msg.ID == "" {
			return nil, ErrMalformedEvent
		}
		return MessageEvent{Message: msg}, nil

	case EventConversation:
		msgs, err := decodeMessageList(env.Data)
		if err != nil {
			return nil, err
		}
		return ConversationEvent{Messages: msgs}, nil

	case EventMessagesPending:
		msgs, err := decodeMessageList(env.Data)
		if err != nil {
			return nil, err
		}
		return PendingMessagesEvent{Messages: msgs}, nil

	case EventMessageDeleted:
		var body struct {
			ID        string `json:"id"`
			DeletedBy string `json:"deletedBy"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, fmt.Errorf("decode message deletion: %w", err)
		}
		if body.ID == "" {
			return nil, ErrMalformedEvent
		}
		return MessageDeletedEvent{ID: body.ID, DeletedBy: body.DeletedBy}, nil

	case EventTyping:
		var body models.TypingSignal
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, fmt.Errorf("decode typing signal: %w", err)
		}
		if body.From == "" {
			return nil, ErrMalformedEvent
		}
		return TypingEvent{From: body.From, Username: body.Username}, nil

	case EventError:
		var body struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return ErrorEvent{Message: body.Message}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeMessageList(data json.RawMessage) ([]models.Message, error) {
	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	// Entries without a server id cannot be deduplicated; drop them rather
	// than poisoning the merge.
	kept := msgs[:0]
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		kept = append(kept, msg)
	}
	return kept, nil
}

// EncodeEnvelope marshals one outbound named event frame.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %q payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %q envelope: %w", event, err)
	}
	return frame, nil
}
