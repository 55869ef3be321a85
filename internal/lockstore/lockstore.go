// Package lockstore records which conversation attributes are locked to a
// value and which auto-remove flags are on. Enforcement consults it on every
// title, nickname and photo change.
package lockstore

import (
	"fmt"
	"sync"
)

// Kind names a lockable conversation attribute.
type Kind string

const (
	KindTitle    Kind = "title"
	KindNickname Kind = "nickname"
	KindPhoto    Kind = "photo"
)

// Flag names a per-conversation auto-remove toggle.
type Flag string

const (
	FlagTitleAutoRemove    Flag = "title_auto_remove"
	FlagNicknameAutoRemove Flag = "nickname_auto_remove"
)

// Store is the enforcement state store. A conversation attribute is locked
// exactly when GetLock reports ok; the value may be empty.
type Store interface {
	SetLock(conversationID string, kind Kind, value string) error
	ClearLock(conversationID string, kind Kind) error
	GetLock(conversationID string, kind Kind) (value string, ok bool, err error)
	SetFlag(conversationID string, flag Flag, on bool) error
	Flag(conversationID string, flag Flag) (bool, error)
}

func key(conversationID, name string) string {
	return conversationID + "\x00" + name
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	locks map[string]string
	flags map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]string),
		flags: make(map[string]bool),
	}
}

// SetLock locks kind to value.
func (m *MemoryStore) SetLock(conversationID string, kind Kind, value string) error {
	if conversationID == "" {
		return fmt.Errorf("lockstore: set lock: conversation ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[key(conversationID, string(kind))] = value
	return nil
}

// ClearLock removes the lock on kind.
func (m *MemoryStore) ClearLock(conversationID string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key(conversationID, string(kind)))
	return nil
}

// GetLock returns the locked value for kind.
func (m *MemoryStore) GetLock(conversationID string, kind Kind) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.locks[key(conversationID, string(kind))]
	return v, ok, nil
}

// SetFlag turns flag on or off.
func (m *MemoryStore) SetFlag(conversationID string, flag Flag, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.flags[key(conversationID, string(flag))] = true
	} else {
		delete(m.flags, key(conversationID, string(flag)))
	}
	return nil
}

// Flag reports whether flag is on.
func (m *MemoryStore) Flag(conversationID string, flag Flag) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[key(conversationID, string(flag))], nil
}
