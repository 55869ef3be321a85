package lockstore

import (
	"errors"
	"fmt"

	"github.com/zulandar/warden/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore is a Store backed by GORM, so locks survive restarts.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore creates a SQLStore. The tables must already be migrated.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("lockstore: db is required")
	}
	return &SQLStore{db: db}, nil
}

// SetLock upserts the lock row.
func (s *SQLStore) SetLock(conversationID string, kind Kind, value string) error {
	if conversationID == "" {
		return fmt.Errorf("lockstore: set lock: conversation ID is required")
	}
	rec := models.LockRecord{ConversationID: conversationID, Kind: string(kind), Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("lockstore: set %s lock on %s: %w", kind, conversationID, err)
	}
	return nil
}

// ClearLock deletes the lock row.
func (s *SQLStore) ClearLock(conversationID string, kind Kind) error {
	err := s.db.Where("conversation_id = ? AND kind = ?", conversationID, string(kind)).
		Delete(&models.LockRecord{}).Error
	if err != nil {
		return fmt.Errorf("lockstore: clear %s lock on %s: %w", kind, conversationID, err)
	}
	return nil
}

// GetLock reads the lock row.
func (s *SQLStore) GetLock(conversationID string, kind Kind) (string, bool, error) {
	var rec models.LockRecord
	err := s.db.Where("conversation_id = ? AND kind = ?", conversationID, string(kind)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lockstore: get %s lock on %s: %w", kind, conversationID, err)
	}
	return rec.Value, true, nil
}

// SetFlag upserts the flag row.
func (s *SQLStore) SetFlag(conversationID string, flag Flag, on bool) error {
	rec := models.ConversationFlag{ConversationID: conversationID, Name: string(flag), Enabled: on}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("lockstore: set %s on %s: %w", flag, conversationID, err)
	}
	return nil
}

// Flag reads the flag row; a missing row is off.
func (s *SQLStore) Flag(conversationID string, flag Flag) (bool, error) {
	var rec models.ConversationFlag
	err := s.db.Where("conversation_id = ? AND name = ?", conversationID, string(flag)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lockstore: get %s on %s: %w", flag, conversationID, err)
	}
	return rec.Enabled, nil
}
