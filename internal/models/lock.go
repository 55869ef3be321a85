package models

import "time"

// LockRecord is an enforced value for one conversation attribute.
type LockRecord struct {
	ConversationID string `gorm:"primaryKey;size:128"`
	Kind           string `gorm:"primaryKey;size:16"`
	Value          string `gorm:"type:text"`
	UpdatedAt      time.Time
}

// ConversationFlag is a per-conversation boolean such as an auto-remove toggle.
type ConversationFlag struct {
	ConversationID string `gorm:"primaryKey;size:128"`
	Name           string `gorm:"primaryKey;size:32"`
	Enabled        bool
	UpdatedAt      time.Time
}
