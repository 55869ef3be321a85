// Package client defines the contract between warden and a chat platform.
// A Client is obtained from an Authenticator and owns one live platform
// session: event listening, message delivery, and conversation mutation.
package client

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupported is returned by adapters for operations the platform
	// cannot perform (e.g. per-conversation nicknames on Slack).
	ErrUnsupported = errors.New("client: operation not supported by platform")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("client: not connected")
)

// Client is the interface that platform-specific implementations must satisfy.
type Client interface {
	// CurrentUserID returns the bot's own participant ID.
	CurrentUserID() string

	// Listen starts event delivery. Listener failures are reported as a
	// single EventListenerError on the channel, after which no further
	// events arrive. A closed channel also counts as a failure.
	Listen(ctx context.Context) (<-chan Event, error)

	// StopListening tears down event delivery. Safe to call repeatedly.
	StopListening() error

	// SendMessage delivers msg to a conversation.
	SendMessage(ctx context.Context, msg Message, conversationID string) error

	// ChangeNickname sets userID's nickname in a conversation. An empty
	// nickname clears it.
	ChangeNickname(ctx context.Context, nickname, conversationID, userID string) error

	// SetTitle renames a conversation. An empty title clears it where the
	// platform allows.
	SetTitle(ctx context.Context, title, conversationID string) error

	// SetPhoto re-applies a previously observed photo reference.
	SetPhoto(ctx context.Context, conversationID, ref string) error

	// ThreadList returns up to limit conversations the bot belongs to.
	ThreadList(ctx context.Context, limit int) ([]ThreadInfo, error)

	// ThreadInfo describes a single conversation.
	ThreadInfo(ctx context.Context, conversationID string) (*ThreadInfo, error)

	// UserInfo resolves a participant's display name.
	UserInfo(ctx context.Context, userID string) (*UserInfo, error)

	// AppState returns the current credential snapshot, suitable for
	// persisting and for a later Login.
	AppState() Credentials

	// Close ends the platform session.
	Close() error
}

// Authenticator performs a platform login.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (Client, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (Client, error)

// Login calls f.
func (f AuthenticatorFunc) Login(ctx context.Context, creds Credentials) (Client, error) {
	return f(ctx, creds)
}

// EventType classifies inbound platform events.
type EventType string

const (
	EventMessage          EventType = "message"
	EventMessageReply     EventType = "message_reply"
	EventTitleChanged     EventType = "title_changed"
	EventNicknameChanged  EventType = "nickname_changed"
	EventPhotoChanged     EventType = "photo_changed"
	EventParticipantAdded EventType = "participant_added"
	EventListenerError    EventType = "listener_error"
)

// Event is a platform event delivered by Listen.
type Event struct {
	Type           EventType
	ConversationID string
	Timestamp      time.Time

	// Message events.
	SenderID string
	Body     string
	Mentions []string // mentioned participant IDs, in order

	// Log events. AuthorID is the participant who made the change; it may
	// be empty when the platform does not report one.
	AuthorID      string
	NewTitle      string
	ParticipantID string // nickname target
	NewNickname   string
	PhotoRef      string
	AddedIDs      []string

	// Err is set for EventListenerError.
	Err error
}

// IsMessage reports whether the event carries a chat message.
func (e Event) IsMessage() bool {
	return e.Type == EventMessage || e.Type == EventMessageReply
}

// Mention annotates Message.Body so the platform renders an active mention
// of ID in place of Tag, which starts at byte offset FromIndex.
type Mention struct {
	Tag       string
	ID        string
	FromIndex int
}

// Message is an outbound chat message.
type Message struct {
	Body     string
	Mentions []Mention
}

// ThreadInfo describes a conversation.
type ThreadInfo struct {
	ID             string
	Name           string
	ImageSrc       string
	ParticipantIDs []string
	Nicknames      map[string]string
}

// UserInfo describes a participant.
type UserInfo struct {
	ID   string
	Name string
}
