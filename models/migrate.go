package models

import "gorm.io/gorm"

// Migrate creates or updates the schema for every persisted model.
// Presence entries and call sessions are ephemeral and have no tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Friendship{},
		&Message{},
		&Conversation{},
		&ConversationParticipant{},
	)
}
