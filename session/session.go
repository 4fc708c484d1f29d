// Package session owns the canonical conversation state for one
// authenticated chat session. It reduces events from the live stream into
// state, applies optimistic local mutations, sequences history pagination
// and search, and mirrors the result into the durable cache.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"chatsync/api"
	"chatsync/models"
	"chatsync/transport"
)

const (
	// DefaultPageSize is the history-fetch page size.
	DefaultPageSize = 50
	// DefaultSearchLimit caps search results per query.
	DefaultSearchLimit = 100
	// DefaultTypingExpiry clears a typing signal not superseded in time.
	DefaultTypingExpiry = 2 * time.Second
)

// Transport is the event-stream surface the session consumes.
type Transport interface {
	Connect() error
	Disconnect()
	Emit(event string, payload any)
	Events() <-chan transport.Event
}

// ConversationAPI is the request/response surface for history, search, and
// uploads, independent of the live stream.
type ConversationAPI interface {
	FetchConversationPage(ctx context.Context, meID, peerID string, limit, skip int) ([]models.Message, error)
	SearchConversation(ctx context.Context, meID, peerID, query string, limit int) ([]models.Message, error)
	UploadAttachment(ctx context.Context, fromID, toID, filename string, file io.Reader) (*api.Attachment, error)
}

// SnapshotStore persists the conversation view across restarts. Writes are
// best-effort; the session never fails a mutation on a store error.
type SnapshotStore interface {
	SaveMessages(messages []models.Message) error
	LoadMessages() ([]models.Message, error)
	SaveActiveUser(user *models.User) error
	LoadActiveUser() (*models.User, error)
}

// Options configures a Session.
type Options struct {
	// SelfID is the authenticated participant's id.
	SelfID string

	Transport Transport
	// API may be nil; pagination, search, and uploads are then disabled.
	API ConversationAPI
	// Cache may be nil; the session then runs memory-only.
	Cache SnapshotStore

	PageSize     int
	SearchLimit  int
	TypingExpiry time.Duration

	// OnStateChange, when set, receives a state copy after every applied
	// transition.
	OnStateChange func(State)
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = DefaultSearchLimit
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = DefaultTypingExpiry
	}
	return o
}

// Session serializes every state transition for one chat session. All
// mutations, whether reduced from transport events or dispatched as local
// intents, run under one lock; consumers read snapshots.
type Session struct {
	opts Options

	mu    sync.Mutex
	state State

	typingGen uint64
	loadGen   uint64
	searchGen uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
}

// New creates a session with option defaults applied.
func New(options Options) (*Session, error) {
	if options.SelfID == "" {
		return nil, errors.New("session: self id is required")
	}
	if options.Transport == nil {
		return nil, errors.New("session: transport is required")
	}

	s := &Session{
		opts: options.withDefaults(),
		state: State{
			HasMoreMessages: true,
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start seeds state from the cache, connects the transport, and begins the
// dispatch loop. It is safe to call once per session.
func (s *Session) Start() error {
	s.startOnce.Do(func() {
		s.loadCache()

		if err := s.opts.Transport.Connect(); err != nil {
			s.startErr = err
			return
		}

		s.wg.Add(1)
		go s.run()
	})
	return s.startErr
}

// Stop tears the session down deterministically. Safe to call multiple
// times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.opts.Transport.Disconnect()
		s.wg.Wait()
	})
}

// Snapshot returns a copy of the current conversation state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// ClearError clears the surfaced error field. Renderers call this after
// displaying the error.
func (s *Session) ClearError() {
	s.mu.Lock()
	if s.state.Error == "" {
		s.mu.Unlock()
		return
	}
	s.state.Error = ""
	snap := s.state.clone()
	s.mu.Unlock()
	s.notify(snap)
}

// loadCache reads the persisted snapshots once, before the live connection
// is established. Errors degrade to an empty view.
func (s *Session) loadCache() {
	if s.opts.Cache == nil {
		return
	}

	messages, err := s.opts.Cache.LoadMessages()
	if err != nil {
		log.Printf("session: load cached messages: %v", err)
	}
	user, err := s.opts.Cache.LoadActiveUser()
	if err != nil {
		log.Printf("session: load cached active user: %v", err)
	}

	s.mu.Lock()
	if len(messages) > 0 {
		s.state.Messages = messages
	}
	if user != nil {
		s.state.ActiveUser = user
	}
	s.mu.Unlock()
}

func (s *Session) run() {
	defer s.wg.Done()
	events := s.opts.Transport.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.applyEvent(event)
		}
	}
}

func (s *Session) notify(state State) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// persistMessages mirrors the message list into the cache. Best-effort:
// failures are logged, never propagated. Callers hold the session lock.
func (s *Session) persistMessages() {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.SaveMessages(s.state.Messages); err != nil {
		log.Printf("session: persist messages: %v", err)
	}
}

// persistActiveUser mirrors the active peer into the cache. Callers hold
// the session lock.
func (s *Session) persistActiveUser() {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.SaveActiveUser(s.state.ActiveUser); err != nil {
		log.Printf("session: persist active user: %v", err)
	}
}
