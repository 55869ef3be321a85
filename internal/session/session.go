// Package session runs timed per-conversation sessions. A Target session
// repeatedly sends "{label} {line}" from a message catalogue; a Fight
// session is an on/off marker with no timer.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/metrics"
)

// DefaultInterval is the Target tick period.
const DefaultInterval = 10 * time.Second

// Kind distinguishes the session types. At most one session of each kind
// runs per conversation.
type Kind string

const (
	KindFight  Kind = "fight"
	KindTarget Kind = "target"
)

// Sender delivers session messages.
type Sender interface {
	SendMessage(ctx context.Context, msg client.Message, conversationID string) error
}

// Session is one running timed session.
type Session struct {
	ID             string
	ConversationID string
	Kind           Kind
	Label          string
	FileNumber     string
	StartedAt      time.Time

	messages []string
	cursor   atomic.Int64
	cancel   context.CancelFunc
	once     sync.Once
	done     chan struct{}
}

// Cancel stops the session's timer. Safe to call more than once.
func (s *Session) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.Kind == KindFight {
			close(s.done)
		}
	})
}

// Done is closed once the session can no longer send.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cursor returns the index of the next catalogue line.
func (s *Session) Cursor() int { return int(s.cursor.Load()) }

// Len returns the catalogue length.
func (s *Session) Len() int { return len(s.messages) }

// Manager owns the timed sessions of every conversation.
type Manager struct {
	sender       Sender
	interval     time.Duration
	catalogueDir string

	mu       sync.Mutex
	sessions map[string]*Session // key: "conversationID:kind"
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Sender       Sender
	Interval     time.Duration // defaults to DefaultInterval
	CatalogueDir string        // defaults to "."
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("session: manager: sender is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	dir := opts.CatalogueDir
	if dir == "" {
		dir = "."
	}
	return &Manager{
		sender:       opts.Sender,
		interval:     interval,
		catalogueDir: dir,
		sessions:     make(map[string]*Session),
	}, nil
}

func sessionKey(conversationID string, kind Kind) string {
	return conversationID + ":" + string(kind)
}

// TargetSpec describes a Target session to start.
type TargetSpec struct {
	ConversationID string
	FileNumber     string
	Label          string
	// OnFailure is called once if a send fails and the session ends.
	OnFailure func(err error)
}

// StartTarget loads the catalogue and starts a Target session, replacing
// any existing one for the conversation. On a load error nothing changes.
func (m *Manager) StartTarget(spec TargetSpec) (sess *Session, replaced bool, err error) {
	lines, err := LoadCatalogue(m.catalogueDir, spec.FileNumber)
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess = &Session{
		ID:             uuid.NewString(),
		ConversationID: spec.ConversationID,
		Kind:           KindTarget,
		Label:          spec.Label,
		FileNumber:     spec.FileNumber,
		StartedAt:      time.Now(),
		messages:       lines,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	key := sessionKey(spec.ConversationID, KindTarget)
	m.mu.Lock()
	old := m.sessions[key]
	if old != nil {
		old.Cancel()
	}
	m.sessions[key] = sess
	m.mu.Unlock()

	if old == nil {
		metrics.ActiveSessions.WithLabelValues(string(KindTarget)).Inc()
	}
	go m.run(ctx, sess, spec.OnFailure)
	log.Printf("session: target %s started in %s (catalogue %s, %d lines)",
		sess.ID, spec.ConversationID, spec.FileNumber, len(lines))
	return sess, old != nil, nil
}

// run sends one catalogue line per tick until cancelled or a send fails.
func (m *Manager) run(ctx context.Context, s *Session, onFailure func(error)) {
	defer close(s.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cursor := s.Cursor()
		body := s.Label + " " + s.messages[cursor]
		if err := m.sender.SendMessage(ctx, client.Message{Body: body}, s.ConversationID); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.SessionMessages.WithLabelValues("failed").Inc()
			log.Printf("session: target %s in %s stopped: send failed: %v", s.ID, s.ConversationID, err)
			s.Cancel()
			m.discard(s)
			if onFailure != nil {
				onFailure(err)
			}
			return
		}
		metrics.SessionMessages.WithLabelValues("sent").Inc()
		s.cursor.Store(int64((cursor + 1) % len(s.messages)))
	}
}

// discard removes s if it is still the registered session for its key.
func (m *Manager) discard(s *Session) bool {
	key := sessionKey(s.ConversationID, s.Kind)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[key] != s {
		return false
	}
	delete(m.sessions, key)
	metrics.ActiveSessions.WithLabelValues(string(s.Kind)).Dec()
	return true
}

// Remove discards the registered session of kind without cancelling it.
// Callers cancel first; see Stop.
func (m *Manager) Remove(conversationID string, kind Kind) {
	if s := m.Get(conversationID, kind); s != nil {
		m.discard(s)
	}
}

// Get returns the active session of kind, or nil.
func (m *Manager) Get(conversationID string, kind Kind) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey(conversationID, kind)]
}

// Active reports whether a session of kind is running.
func (m *Manager) Active(conversationID string, kind Kind) bool {
	return m.Get(conversationID, kind) != nil
}

// StopKind cancels and removes the session of kind. It reports whether one
// was active.
func (m *Manager) StopKind(conversationID string, kind Kind) bool {
	s := m.Get(conversationID, kind)
	if s == nil {
		return false
	}
	s.Cancel()
	m.discard(s)
	log.Printf("session: %s %s stopped in %s", kind, s.ID, conversationID)
	return true
}

// StopTarget stops the Target session; no-op if none is active.
func (m *Manager) StopTarget(conversationID string) bool {
	return m.StopKind(conversationID, KindTarget)
}

// StartFight marks fight mode on. It reports whether a prior Fight session
// was replaced.
func (m *Manager) StartFight(conversationID string) (replaced bool) {
	sess := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           KindFight,
		StartedAt:      time.Now(),
		done:           make(chan struct{}),
	}
	key := sessionKey(conversationID, KindFight)
	m.mu.Lock()
	old := m.sessions[key]
	if old != nil {
		old.Cancel()
	}
	m.sessions[key] = sess
	m.mu.Unlock()
	if old == nil {
		metrics.ActiveSessions.WithLabelValues(string(KindFight)).Inc()
	}
	return old != nil
}

// StopFight marks fight mode off.
func (m *Manager) StopFight(conversationID string) bool {
	return m.StopKind(conversationID, KindFight)
}

// Stop stops whichever session is active, preferring Fight.
func (m *Manager) Stop(conversationID string) (Kind, bool) {
	if m.StopFight(conversationID) {
		return KindFight, true
	}
	if m.StopTarget(conversationID) {
		return KindTarget, true
	}
	return "", false
}

// StopAll stops every session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Cancel()
		m.discard(s)
	}
}

// Count returns the number of running sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
