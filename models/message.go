package models

import "time"

// Attachment describes a file carried by a message. The file itself lives
// in external media storage; only the descriptor is persisted here.
type Attachment struct {
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Kind     string `json:"kind,omitempty"` // image, video, audio, file
}

type Message struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"message_id"`
	ConversationID string `gorm:"type:varchar(36);index" json:"conversation_id"`
	SenderID       string `gorm:"type:varchar(36);index" json:"sender_id"`
	ReceiverID     string `gorm:"type:varchar(36)" json:"receiver_id,omitempty"` // empty for group messages

	Text            string     `json:"text,omitempty"`
	SharedPostID    string     `gorm:"type:varchar(36)" json:"shared_post_id,omitempty"`
	SharedStoryID   string     `gorm:"type:varchar(36)" json:"shared_story_id,omitempty"`
	SharedProfileID string     `gorm:"type:varchar(36)" json:"shared_profile_id,omitempty"`
	Attachment      Attachment `gorm:"embedded;embeddedPrefix:attachment_" json:"attachment,omitempty"`

	IsRead             bool       `gorm:"default:false" json:"is_read"`
	DeletedFor         StringList `gorm:"type:text" json:"-"` // per-viewer soft deletes
	DeletedForEveryone bool       `gorm:"default:false" json:"deleted_for_everyone"`

	// Opaque end-to-end fields. Stored and forwarded, never interpreted.
	EncryptedKey  string    `json:"encrypted_key,omitempty"`
	EncryptedKeys StringMap `gorm:"type:text" json:"encrypted_keys,omitempty"`
	IV            string    `json:"iv,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// HasContent reports whether the message carries at least one payload field.
func (m *Message) HasContent() bool {
	return m.Text != "" ||
		m.SharedPostID != "" ||
		m.SharedStoryID != "" ||
		m.SharedProfileID != "" ||
		m.Attachment.URL != ""
}

// VisibleTo reports whether viewer should still see the message.
func (m *Message) VisibleTo(viewer string) bool {
	if m.DeletedForEveryone {
		return false
	}
	return !m.DeletedFor.Contains(viewer)
}
