package models

import "time"

type ConversationParticipant struct {
	ConversationID string    `gorm:"primaryKey;type:varchar(36)" json:"conversation_id"`
	UserID         string    `gorm:"primaryKey;type:varchar(36);index" json:"user_id"`
	IsAdmin        bool      `json:"is_admin"` // group role; always false for private chats
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joined_at"`
}
