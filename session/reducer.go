package session

import (
	"time"

	"chatsync/models"
	"chatsync/transport"
)

// applyEvent reduces one inbound transport event into state. Each event
// kind maps to exactly one deterministic transition; events are applied in
// delivery order by the dispatch loop and treated independently of each
// other.
func (s *Session) applyEvent(event transport.Event) {
	s.mu.Lock()

	changed := true
	switch ev := event.(type) {
	case transport.RosterEvent:
		// The server list is authoritative and complete; no merge.
		s.state.Users = ev.Users

	case transport.MessageEvent:
		changed = s.appendNewMessages([]models.Message{ev.Message})

	case transport.ConversationEvent:
		changed = s.appendNewMessages(ev.Messages)

	case transport.PendingMessagesEvent:
		changed = s.appendNewMessages(ev.Messages)

	case transport.MessageDeletedEvent:
		changed = s.removeMessage(ev.ID)
		if changed {
			s.persistMessages()
		}

	case transport.TypingEvent:
		s.typingGen++
		gen := s.typingGen
		s.state.TypingUsers = []models.TypingSignal{{From: ev.From, Username: ev.Username}}
		time.AfterFunc(s.opts.TypingExpiry, func() {
			s.expireTyping(gen)
		})

	case transport.ConnectedEvent:
		s.state.IsConnected = true
		s.state.Error = ""
		if s.state.ActiveUser != nil {
			// Re-request the active conversation so the server snapshot
			// fills any gap the pending-messages burst missed.
			s.opts.Transport.Emit(transport.EventGetConversation, transport.GetConversationPayload{
				WithUserID: s.state.ActiveUser.ID,
			})
		}

	case transport.DisconnectedEvent:
		s.state.IsConnected = false

	case transport.ErrorEvent:
		s.state.Error = ev.Message

	default:
		changed = false
	}

	if !changed {
		s.mu.Unlock()
		return
	}
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

// appendNewMessages appends messages whose ids are not yet present,
// preserving delivery order, and persists when anything was added. Callers
// hold the session lock.
func (s *Session) appendNewMessages(messages []models.Message) bool {
	if len(messages) == 0 {
		return false
	}

	existing := messageIDSet(s.state.Messages)
	appended := false
	for _, msg := range messages {
		if _, ok := existing[msg.ID]; ok {
			continue
		}
		existing[msg.ID] = struct{}{}
		s.state.Messages = append(s.state.Messages, msg)
		appended = true
	}

	if appended {
		s.persistMessages()
	}
	return appended
}

// removeMessage drops a message from both the authoritative list and the
// search results. Idempotent against an already-removed id. Callers hold
// the session lock.
func (s *Session) removeMessage(id string) bool {
	removed := false

	kept := s.state.Messages[:0]
	for _, msg := range s.state.Messages {
		if msg.ID == id {
			removed = true
			continue
		}
		kept = append(kept, msg)
	}
	s.state.Messages = kept

	keptResults := s.state.SearchResults[:0]
	for _, msg := range s.state.SearchResults {
		if msg.ID == id {
			removed = true
			continue
		}
		keptResults = append(keptResults, msg)
	}
	s.state.SearchResults = keptResults

	return removed
}

// expireTyping clears the typing indicator scheduled at generation gen. A
// stale expiry whose generation was superseded by a newer signal is a
// no-op.
func (s *Session) expireTyping(gen uint64) {
	s.mu.Lock()
	if s.typingGen != gen || len(s.state.TypingUsers) == 0 {
		s.mu.Unlock()
		return
	}
	s.state.TypingUsers = nil
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}
