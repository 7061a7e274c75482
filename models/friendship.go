package models

import "time"

const FriendshipAccepted = "accepted"

// Friendship rows are written by the friend-request workflow elsewhere in
// the application. The realtime service reads them as a pure predicate.
type Friendship struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserA     string    `gorm:"type:varchar(36);index:idx_friend_pair" json:"user_a"`
	UserB     string    `gorm:"type:varchar(36);index:idx_friend_pair" json:"user_b"`
	Status    string    `gorm:"type:varchar(16);index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
