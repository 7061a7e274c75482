package models

import "time"

// User is owned by the account subsystem; the realtime service only reads
// it for identity lookups (display name and avatar on call notifications).
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username    string    `gorm:"unique;not null" json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}
