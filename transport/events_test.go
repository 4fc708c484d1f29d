package transport

import (
	"encoding/json"
	"errors"
	"testing"

	"chatsync/models"
)

func TestDecodeEventKinds(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		check func(t *testing.T, event Event)
	}{
		{
			name:  "roster",
			frame: `{"event":"users:updated","data":[{"_id":"u1","username":"alice","online":true}]}`,
			check: func(t *testing.T, event Event) {
				roster, ok := event.(RosterEvent)
				if !ok || len(roster.Users) != 1 || roster.Users[0].ID != "u1" {
					t.Fatalf("unexpected roster event: %+v", event)
				}
			},
		},
		{
			name:  "message",
			frame: `{"event":"message","data":{"_id":"m1","from":"u1","to":"u2","type":"text","text":"hi"}}`,
			check: func(t *testing.T, event Event) {
				msg, ok := event.(MessageEvent)
				if !ok || msg.Message.ID != "m1" || msg.Message.Type != models.MessageTypeText {
					t.Fatalf("unexpected message event: %+v", event)
				}
			},
		},
		{
			name:  "conversation",
			frame: `{"event":"conversation","data":[{"_id":"m1","from":"u1","to":"u2","type":"text"},{"_id":"m2","from":"u2","to":"u1","type":"emoji"}]}`,
			check: func(t *testing.T, event Event) {
				conv, ok := event.(ConversationEvent)
				if !ok || len(conv.Messages) != 2 || conv.Messages[1].ID != "m2" {
					t.Fatalf("unexpected conversation event: %+v", event)
				}
			},
		},
		{
			name:  "pending",
			frame: `{"event":"messages:pending","data":[{"_id":"m3","from":"u1","to":"u2","type":"text"}]}`,
			check: func(t *testing.T, event Event) {
				pending, ok := event.(PendingMessagesEvent)
				if !ok || len(pending.Messages) != 1 {
					t.Fatalf("unexpected pending event: %+v", event)
				}
			},
		},
		{
			name:  "deleted",
			frame: `{"event":"message:deleted","data":{"id":"m1","deletedBy":"u2"}}`,
			check: func(t *testing.T, event Event) {
				deleted, ok := event.(MessageDeletedEvent)
				if !ok || deleted.ID != "m1" || deleted.DeletedBy != "u2" {
					t.Fatalf("unexpected deleted event: %+v", event)
				}
			},
		},
		{
			name:  "typing",
			frame: `{"event":"typing","data":{"from":"u1","username":"alice"}}`,
			check: func(t *testing.T, event Event) {
				typing, ok := event.(TypingEvent)
				if !ok || typing.From != "u1" || typing.Username != "alice" {
					t.Fatalf("unexpected typing event: %+v", event)
				}
			},
		},
		{
			name:  "error",
			frame: `{"event":"error","data":{"message":"nope"}}`,
			check: func(t *testing.T, event Event) {
				errEvent, ok := event.(ErrorEvent)
				if !ok || errEvent.Message != "nope" {
					t.Fatalf("unexpected error event: %+v", event)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tc.frame))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tc.check(t, event)
		})
	}
}

func TestDecodeEventRejectsMalformed(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{{{`, nil},
		{"no event name", `{"data":{}}`, ErrMalformedEvent},
		{"message without id", `{"event":"message","data":{"from":"u1","to":"u2"}}`, ErrMalformedEvent},
		{"deletion without id", `{"event":"message:deleted","data":{"deletedBy":"u1"}}`, ErrMalformedEvent},
		{"typing without sender", `{"event":"typing","data":{"username":"alice"}}`, ErrMalformedEvent},
		{"unknown event", `{"event":"presence:changed","data":{}}`, ErrUnknownEvent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tc.frame))
			if err == nil {
				t.Fatalf("expected decode error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeMessageListDropsEntriesWithoutID(t *testing.T) {
	frame := `{"event":"conversation","data":[{"_id":"m1","type":"text"},{"type":"text","text":"no id"}]}`
	event, err := DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	conv := event.(ConversationEvent)
	if len(conv.Messages) != 1 || conv.Messages[0].ID != "m1" {
		t.Fatalf("id-less entry survived the merge guard: %+v", conv.Messages)
	}
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	frame, err := EncodeEnvelope(EventDeleteMessage, DeleteMessagePayload{ID: "m1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != EventDeleteMessage {
		t.Fatalf("unexpected event name %q", env.Event)
	}

	var payload DeleteMessagePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != "m1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
