package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"chatsync/api"
	"chatsync/models"
	"chatsync/transport"
)

var errSaveFailed = errors.New("save failed")

// fakeTransport records emitted events and exposes a channel tests can push
// inbound events through.
type fakeTransport struct {
	mu      sync.Mutex
	emitted []emittedEvent
	events  chan transport.Event

	connectErr error
	connects   int
}

type emittedEvent struct {
	name    string
	payload any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) Emit(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emittedEvent{name: event, payload: payload})
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) emittedEvents() []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emittedEvent(nil), f.emitted...)
}

func (f *fakeTransport) lastEmitted(t *testing.T) emittedEvent {
	t.Helper()
	events := f.emittedEvents()
	if len(events) == 0 {
		t.Fatalf("expected at least one emitted event")
	}
	return events[len(events)-1]
}

// fakeAPI routes calls to injected function fields.
type fakeAPI struct {
	fetchFn  func(ctx context.Context, meID, peerID string, limit, skip int) ([]models.Message, error)
	searchFn func(ctx context.Context, meID, peerID, query string, limit int) ([]models.Message, error)
	uploadFn func(ctx context.Context, fromID, toID, filename string, file io.Reader) (*api.Attachment, error)
}

func (f *fakeAPI) FetchConversationPage(ctx context.Context, meID, peerID string, limit, skip int) ([]models.Message, error) {
	return f.fetchFn(ctx, meID, peerID, limit, skip)
}

func (f *fakeAPI) SearchConversation(ctx context.Context, meID, peerID, query string, limit int) ([]models.Message, error) {
	return f.searchFn(ctx, meID, peerID, query, limit)
}

func (f *fakeAPI) UploadAttachment(ctx context.Context, fromID, toID, filename string, file io.Reader) (*api.Attachment, error) {
	return f.uploadFn(ctx, fromID, toID, filename, file)
}

// memStore is an in-memory SnapshotStore for persistence assertions.
type memStore struct {
	mu         sync.Mutex
	messages   []models.Message
	activeUser *models.User
	saveErr    error
}

func (m *memStore) SaveMessages(messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.messages = append([]models.Message(nil), messages...)
	return nil
}

func (m *memStore) LoadMessages() ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages...), nil
}

func (m *memStore) SaveActiveUser(user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if user == nil {
		m.activeUser = nil
		return nil
	}
	copied := *user
	m.activeUser = &copied
	return nil
}

func (m *memStore) LoadActiveUser() (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeUser == nil {
		return nil, nil
	}
	copied := *m.activeUser
	return &copied, nil
}

func (m *memStore) storedMessageIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		ids = append(ids, msg.ID)
	}
	return ids
}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeTransport) {
	t.Helper()

	tp := newFakeTransport()
	if opts.Transport == nil {
		opts.Transport = tp
	}
	if opts.SelfID == "" {
		opts.SelfID = "me"
	}

	sess, err := New(opts)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(sess.Stop)

	return sess, tp
}

func textMessage(id, from, to, text string) models.Message {
	return models.Message{
		ID:        id,
		From:      from,
		To:        to,
		Type:      models.MessageTypeText,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func messageIDs(messages []models.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return ids
}

func sameIDs(got []models.Message, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i, msg := range got {
		if msg.ID != want[i] {
			return false
		}
	}
	return true
}

// waitForState polls the snapshot until pred holds or the deadline passes.
func waitForState(t *testing.T, sess *Session, pred func(State) bool) State {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state := sess.Snapshot()
		if pred(state) {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state condition; last state: %+v", sess.Snapshot())
	return State{}
}
