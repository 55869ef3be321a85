package client

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SentMessage records a SendMessage call on MockClient.
type SentMessage struct {
	ConversationID string
	Message        Message
}

// NicknameChange records a ChangeNickname call on MockClient.
type NicknameChange struct {
	ConversationID string
	UserID         string
	Nickname       string
}

// TitleChange records a SetTitle call on MockClient.
type TitleChange struct {
	ConversationID string
	Title          string
}

// MockClient implements Client for testing. It records every mutation and
// allows simulating inbound events via SimulateEvent.
type MockClient struct {
	mu        sync.Mutex
	botID     string
	listening bool
	closed    bool
	events    chan Event
	listens   int

	sent      []SentMessage
	nicknames []NicknameChange
	titles    []TitleChange
	photos    []TitleChange

	threads map[string]*ThreadInfo
	order   []string
	users   map[string]string
	creds   Credentials

	sendErr     error
	sendErrFrom int // fail sends once this many succeeded; 0 = never
	nickErr     error
	titleErr    error
	threadErr   error
	userErr     error
	listenErr   error
}

// NewMockClient creates a MockClient whose own participant ID is botID.
func NewMockClient(botID string) *MockClient {
	return &MockClient{
		botID:   botID,
		threads: make(map[string]*ThreadInfo),
		users:   make(map[string]string),
	}
}

// CurrentUserID returns the configured bot ID.
func (m *MockClient) CurrentUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botID
}

// Listen returns a fresh event channel.
func (m *MockClient) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrNotConnected
	}
	if m.listenErr != nil {
		return nil, m.listenErr
	}
	m.events = make(chan Event, 100)
	m.listening = true
	m.listens++
	return m.events, nil
}

// StopListening closes the current event channel.
func (m *MockClient) StopListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		close(m.events)
		m.listening = false
	}
	return nil
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, msg Message, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil && len(m.sent) >= m.sendErrFrom {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{ConversationID: conversationID, Message: msg})
	return nil
}

// ChangeNickname records the change and updates the thread's nickname map.
func (m *MockClient) ChangeNickname(ctx context.Context, nickname, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nickErr != nil {
		return m.nickErr
	}
	m.nicknames = append(m.nicknames, NicknameChange{ConversationID: conversationID, UserID: userID, Nickname: nickname})
	if t, ok := m.threads[conversationID]; ok {
		if t.Nicknames == nil {
			t.Nicknames = make(map[string]string)
		}
		t.Nicknames[userID] = nickname
	}
	return nil
}

// SetTitle records the change and updates the thread name.
func (m *MockClient) SetTitle(ctx context.Context, title, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.titleErr != nil {
		return m.titleErr
	}
	m.titles = append(m.titles, TitleChange{ConversationID: conversationID, Title: title})
	if t, ok := m.threads[conversationID]; ok {
		t.Name = title
	}
	return nil
}

// SetPhoto records the change and updates the thread image.
func (m *MockClient) SetPhoto(ctx context.Context, conversationID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, TitleChange{ConversationID: conversationID, Title: ref})
	if t, ok := m.threads[conversationID]; ok {
		t.ImageSrc = ref
	}
	return nil
}

// ThreadList returns registered threads in registration order.
func (m *MockClient) ThreadList(ctx context.Context, limit int) ([]ThreadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.threadErr != nil {
		return nil, m.threadErr
	}
	var out []ThreadInfo
	for _, id := range m.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, copyThread(m.threads[id]))
	}
	return out, nil
}

// ThreadInfo returns a registered thread.
func (m *MockClient) ThreadInfo(ctx context.Context, conversationID string) (*ThreadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.threadErr != nil {
		return nil, m.threadErr
	}
	t, ok := m.threads[conversationID]
	if !ok {
		return nil, fmt.Errorf("mock client: unknown thread %q", conversationID)
	}
	info := copyThread(t)
	return &info, nil
}

// UserInfo returns a registered user's name.
func (m *MockClient) UserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userErr != nil {
		return nil, m.userErr
	}
	name, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("mock client: unknown user %q", userID)
	}
	return &UserInfo{ID: userID, Name: name}, nil
}

// AppState returns the configured credentials.
func (m *MockClient) AppState() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.Clone()
}

// Close marks the client closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		close(m.events)
		m.listening = false
	}
	m.closed = true
	return nil
}

func copyThread(t *ThreadInfo) ThreadInfo {
	out := *t
	out.ParticipantIDs = append([]string(nil), t.ParticipantIDs...)
	out.Nicknames = make(map[string]string, len(t.Nicknames))
	for k, v := range t.Nicknames {
		out.Nicknames[k] = v
	}
	return out
}

// --- Test helpers ---

// AddThread registers a conversation.
func (m *MockClient) AddThread(info ThreadInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[info.ID]; !ok {
		m.order = append(m.order, info.ID)
	}
	t := copyThread(&info)
	m.threads[info.ID] = &t
}

// AddUser registers a participant name for UserInfo.
func (m *MockClient) AddUser(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = name
}

// SetCredentials sets the value returned by AppState.
func (m *MockClient) SetCredentials(c Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = c.Clone()
}

// SetSendError makes SendMessage fail once after successful sends have
// been recorded. after=0 fails every send.
func (m *MockClient) SetSendError(err error, after int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
	m.sendErrFrom = after
}

// SetNicknameError makes ChangeNickname fail.
func (m *MockClient) SetNicknameError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nickErr = err
}

// SetTitleError makes SetTitle fail.
func (m *MockClient) SetTitleError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titleErr = err
}

// SetThreadError makes ThreadList and ThreadInfo fail.
func (m *MockClient) SetThreadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadErr = err
}

// SetUserError makes UserInfo fail.
func (m *MockClient) SetUserError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userErr = err
}

// SetListenError makes Listen fail.
func (m *MockClient) SetListenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenErr = err
}

// SimulateEvent delivers an event on the current listen channel. It
// reports false when nothing is listening.
func (m *MockClient) SimulateEvent(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.listening {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m.events <- ev
	return true
}

// FailListener reports a listener failure and closes the channel.
func (m *MockClient) FailListener(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.listening {
		return false
	}
	m.events <- Event{Type: EventListenerError, Err: err, Timestamp: time.Now()}
	close(m.events)
	m.listening = false
	return true
}

// ListenCount returns how many times Listen succeeded.
func (m *MockClient) ListenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listens
}

// Listening reports whether a listen channel is open.
func (m *MockClient) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// Closed reports whether Close was called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// AllSent returns a copy of all sent messages.
func (m *MockClient) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recently sent message.
func (m *MockClient) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of sent messages.
func (m *MockClient) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// NicknameChanges returns a copy of all nickname changes.
func (m *MockClient) NicknameChanges() []NicknameChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NicknameChange, len(m.nicknames))
	copy(out, m.nicknames)
	return out
}

// TitleChanges returns a copy of all title changes.
func (m *MockClient) TitleChanges() []TitleChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TitleChange, len(m.titles))
	copy(out, m.titles)
	return out
}

// PhotoChanges returns a copy of all SetPhoto calls; Title holds the ref.
func (m *MockClient) PhotoChanges() []TitleChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TitleChange, len(m.photos))
	copy(out, m.photos)
	return out
}

// MutationCount returns the number of nickname, title and photo changes.
func (m *MockClient) MutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nicknames) + len(m.titles) + len(m.photos)
}
