package session

import "chatsync/models"

// State is the canonical conversation state owned by a Session. Consumers
// receive copies; only the session mutates the live record.
type State struct {
	// Messages is the authoritative message list, oldest-first.
	Messages []models.Message
	// ActiveUser is the currently selected peer, nil when none is selected.
	ActiveUser *models.User
	// Users is the contact roster, replaced wholesale on roster updates.
	Users []models.User
	// TypingUsers holds at most one active typing signal.
	TypingUsers []models.TypingSignal

	IsConnected bool
	// Error is the last surfaced non-fatal error, empty when none.
	Error string

	IsLoadingMore   bool
	HasMoreMessages bool

	SearchQuery   string
	SearchResults []models.Message
	IsSearching   bool
}

func (s State) clone() State {
	out := s
	out.Messages = append([]models.Message(nil), s.Messages...)
	out.Users = append([]models.User(nil), s.Users...)
	out.TypingUsers = append([]models.TypingSignal(nil), s.TypingUsers...)
	out.SearchResults = append([]models.Message(nil), s.SearchResults...)
	if s.ActiveUser != nil {
		user := *s.ActiveUser
		out.ActiveUser = &user
	}
	return out
}

// HasMessage reports whether a message with the given id is present.
func (s State) HasMessage(id string) bool {
	for _, msg := range s.Messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func messageIDSet(messages []models.Message) map[string]struct{} {
	ids := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		ids[msg.ID] = struct{}{}
	}
	return ids
}
