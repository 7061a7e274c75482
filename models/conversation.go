package models

import (
	"fmt"
	"sort"
	"time"
)

type Conversation struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)" json:"conversation_id"`
	IsGroup     bool    `gorm:"index" json:"is_group"`
	DirectKey   *string `gorm:"uniqueIndex;type:varchar(80)" json:"-"` // canonical pair key, private chats only
	GroupName   string  `json:"group_name,omitempty"`
	GroupAvatar string  `json:"group_avatar,omitempty"`

	LastMessageID *string  `gorm:"type:varchar(36)" json:"-"`
	LastMessage   *Message `gorm:"foreignKey:LastMessageID" json:"last_message,omitempty"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DirectKeyFor returns the canonical key for a private chat. The two user
// IDs are sorted so that (a,b) and (b,a) map to the same conversation.
func DirectKeyFor(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return fmt.Sprintf("%s:%s", ids[0], ids[1])
}

// AdminIDs returns the IDs of the loaded participants holding the admin role.
func (c *Conversation) AdminIDs() []string {
	var admins []string
	for _, p := range c.Participants {
		if p.IsAdmin {
			admins = append(admins, p.UserID)
		}
	}
	return admins
}

// ParticipantIDs returns the IDs of the loaded participants.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}
