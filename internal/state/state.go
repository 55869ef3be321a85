// Package state holds the process-wide runtime state shared by the
// dispatcher, command router, supervisor and dashboard: operator settings,
// the bot persona, the joined conversation set, and the persisted
// credential snapshot.
package state

import (
	"sort"
	"strings"
	"sync"
)

// DefaultPrefix is the command prefix used when none is configured.
const DefaultPrefix = "/"

// Settings holds the operator-supplied command prefix and admin ID.
type Settings struct {
	mu      sync.RWMutex
	prefix  string
	adminID string
}

// NewSettings creates Settings. An empty prefix becomes DefaultPrefix.
func NewSettings(prefix, adminID string) *Settings {
	s := &Settings{}
	s.Set(prefix, adminID)
	return s
}

// Set replaces both values.
func (s *Settings) Set(prefix, adminID string) {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefix = prefix
	s.adminID = strings.TrimSpace(adminID)
}

// Prefix returns the command prefix.
func (s *Settings) Prefix() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefix
}

// AdminID returns the admin participant ID, possibly empty.
func (s *Settings) AdminID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adminID
}

// IsAdmin reports whether id is the configured admin. No one is admin
// while the admin ID is unset.
func (s *Settings) IsAdmin(id string) bool {
	admin := s.AdminID()
	return admin != "" && id == admin
}

// Persona is the bot's current nickname.
type Persona struct {
	mu       sync.RWMutex
	nickname string
}

// NewPersona creates a Persona with the given nickname.
func NewPersona(nickname string) *Persona {
	return &Persona{nickname: nickname}
}

// Nickname returns the current nickname.
func (p *Persona) Nickname() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nickname
}

// SetNickname replaces the nickname.
func (p *Persona) SetNickname(n string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nickname = n
}

// JoinedSet is the set of conversation IDs the bot belongs to. Changes are
// reported to subscribers with the full sorted snapshot.
type JoinedSet struct {
	mu        sync.Mutex
	ids       map[string]struct{}
	listeners []func([]string)
}

// NewJoinedSet creates an empty JoinedSet.
func NewJoinedSet() *JoinedSet {
	return &JoinedSet{ids: make(map[string]struct{})}
}

// OnChange registers fn to receive snapshots after every change.
func (j *JoinedSet) OnChange(fn func([]string)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.listeners = append(j.listeners, fn)
}

// Replace sets the membership to exactly ids.
func (j *JoinedSet) Replace(ids []string) {
	j.mu.Lock()
	j.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		j.ids[id] = struct{}{}
	}
	snap, listeners := j.snapshotLocked(), j.listeners
	j.mu.Unlock()
	notify(listeners, snap)
}

// Add inserts id. It reports whether the set changed.
func (j *JoinedSet) Add(id string) bool {
	j.mu.Lock()
	if _, ok := j.ids[id]; ok {
		j.mu.Unlock()
		return false
	}
	j.ids[id] = struct{}{}
	snap, listeners := j.snapshotLocked(), j.listeners
	j.mu.Unlock()
	notify(listeners, snap)
	return true
}

// Snapshot returns the sorted membership.
func (j *JoinedSet) Snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

// Len returns the number of conversations.
func (j *JoinedSet) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.ids)
}

func (j *JoinedSet) snapshotLocked() []string {
	out := make([]string, 0, len(j.ids))
	for id := range j.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func notify(listeners []func([]string), snap []string) {
	for _, fn := range listeners {
		fn(append([]string(nil), snap...))
	}
}
