package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"chatsync/models"
	"chatsync/transport"
)

// SelectUser makes user the active peer, resets pagination and search
// sub-state, persists the choice, and requests the conversation snapshot.
// Any in-flight pagination or search result for the previous peer is
// invalidated.
func (s *Session) SelectUser(user models.User) {
	s.mu.Lock()
	selected := user
	s.state.ActiveUser = &selected
	s.state.HasMoreMessages = true
	s.state.IsLoadingMore = false
	s.state.SearchQuery = ""
	s.state.SearchResults = nil
	s.state.IsSearching = false
	s.loadGen++
	s.searchGen++
	s.persistActiveUser()
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)

	s.opts.Transport.Emit(transport.EventGetConversation, transport.GetConversationPayload{
		WithUserID: user.ID,
	})
}

// SendMessage emits an outbound send request. No local placeholder is
// created; the message enters state when the server echoes it back on the
// live stream.
func (s *Session) SendMessage(to, text string, messageType models.MessageType) {
	text = strings.TrimSpace(text)
	if to == "" || text == "" {
		return
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !messageType.Valid() {
		log.Printf("session: dropping send with invalid message type %q", messageType)
		return
	}

	s.opts.Transport.Emit(transport.EventSendMessage, transport.SendMessagePayload{
		To:   to,
		Text: text,
		Type: messageType,
	})
}

// SendAttachment uploads one file and sends its stored descriptor as a
// file message. The upload failure surfaces as a state error and is
// returned for the caller's retry decision.
func (s *Session) SendAttachment(ctx context.Context, to, filename string, file io.Reader) error {
	if s.opts.API == nil {
		return errors.New("session: no api client configured")
	}
	if to == "" {
		return errors.New("session: recipient is required")
	}

	attachment, err := s.opts.API.UploadAttachment(ctx, s.opts.SelfID, to, filename, file)
	if err != nil {
		s.surfaceError(fmt.Sprintf("upload failed: %v", err))
		return err
	}

	s.opts.Transport.Emit(transport.EventSendMessage, transport.SendMessagePayload{
		To:       to,
		Type:     models.MessageTypeFile,
		FileURL:  attachment.FileURL,
		FileName: attachment.FileName,
		FileSize: attachment.FileSize,
		FileType: attachment.FileType,
	})
	return nil
}

// SendTyping emits the local typing state for the given peer.
func (s *Session) SendTyping(to string, typing bool) {
	if to == "" {
		return
	}
	s.opts.Transport.Emit(transport.EventSendTyping, transport.TypingPayload{
		To:     to,
		Typing: typing,
	})
}

// DeleteMessage emits a delete request and optimistically removes the
// message from the local view and cache before the server confirms. There
// is no rollback: if the server never confirms, the message stays hidden
// until the next conversation snapshot restores it.
func (s *Session) DeleteMessage(id string) {
	if id == "" {
		return
	}

	s.opts.Transport.Emit(transport.EventDeleteMessage, transport.DeleteMessagePayload{ID: id})

	s.mu.Lock()
	if !s.removeMessage(id) {
		s.mu.Unlock()
		return
	}
	s.persistMessages()
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

// LoadMore fetches the next older history page for the active peer.
// Preconditions: a peer is selected, more history exists, and no load is
// already in flight. Failures surface as a state error and the operation
// is retryable.
func (s *Session) LoadMore() {
	if s.opts.API == nil {
		return
	}

	s.mu.Lock()
	if s.state.ActiveUser == nil || !s.state.HasMoreMessages || s.state.IsLoadingMore {
		s.mu.Unlock()
		return
	}
	s.state.IsLoadingMore = true
	s.loadGen++
	gen := s.loadGen
	peerID := s.state.ActiveUser.ID
	skip := len(s.state.Messages)
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)

	go func() {
		page, err := s.opts.API.FetchConversationPage(s.ctx, s.opts.SelfID, peerID, s.opts.PageSize, skip)
		s.applyLoadResult(gen, peerID, page, err)
	}()
}

func (s *Session) applyLoadResult(gen uint64, peerID string, page []models.Message, err error) {
	s.mu.Lock()
	if gen != s.loadGen {
		// Superseded: the peer changed or a newer load owns the flag.
		s.mu.Unlock()
		return
	}
	if s.state.ActiveUser == nil || s.state.ActiveUser.ID != peerID {
		s.state.IsLoadingMore = false
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.state.Error = fmt.Sprintf("load history failed: %v", err)
		s.state.IsLoadingMore = false
		snap := s.state.clone()
		s.mu.Unlock()
		s.notify(snap)
		return
	}

	existing := messageIDSet(s.state.Messages)
	fresh := make([]models.Message, 0, len(page))
	for _, msg := range page {
		if _, ok := existing[msg.ID]; ok {
			continue
		}
		fresh = append(fresh, msg)
	}
	if len(fresh) > 0 {
		s.state.Messages = append(fresh, s.state.Messages...)
		s.persistMessages()
	}

	// A short page signals exhausted history.
	s.state.HasMoreMessages = len(page) == s.opts.PageSize
	s.state.IsLoadingMore = false
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

// Search queries the active conversation. An empty trimmed query clears
// the search sub-state without a network call. Results are filtered down
// to messages still present locally so deleted messages never surface.
func (s *Session) Search(query string) {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	if query == "" {
		s.state.SearchQuery = ""
		s.state.SearchResults = nil
		s.state.IsSearching = false
		s.searchGen++
		snap := s.state.clone()
		s.mu.Unlock()
		s.notify(snap)
		return
	}
	if s.opts.API == nil || s.state.ActiveUser == nil || s.state.IsSearching {
		s.mu.Unlock()
		return
	}
	s.state.SearchQuery = query
	s.state.IsSearching = true
	s.searchGen++
	gen := s.searchGen
	peerID := s.state.ActiveUser.ID
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)

	go func() {
		results, err := s.opts.API.SearchConversation(s.ctx, s.opts.SelfID, peerID, query, s.opts.SearchLimit)
		s.applySearchResult(gen, peerID, results, err)
	}()
}

func (s *Session) applySearchResult(gen uint64, peerID string, results []models.Message, err error) {
	s.mu.Lock()
	if gen != s.searchGen {
		s.mu.Unlock()
		return
	}
	if s.state.ActiveUser == nil || s.state.ActiveUser.ID != peerID {
		s.state.IsSearching = false
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.state.Error = fmt.Sprintf("search failed: %v", err)
		s.state.IsSearching = false
		snap := s.state.clone()
		s.mu.Unlock()
		s.notify(snap)
		return
	}

	// Only surface results for messages still held locally; anything
	// deleted since the query was issued stays hidden.
	present := messageIDSet(s.state.Messages)
	matched := make([]models.Message, 0, len(results))
	for _, msg := range results {
		if _, ok := present[msg.ID]; ok {
			matched = append(matched, msg)
		}
	}
	s.state.SearchResults = matched
	s.state.IsSearching = false
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) surfaceError(message string) {
	s.mu.Lock()
	s.state.Error = message
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}
