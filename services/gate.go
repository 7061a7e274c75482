package services

import (
	"errors"

	"amigo/models"
	apperrors "amigo/pkg/errors"

	"gorm.io/gorm"
)

// Gate answers the per-action authorization questions. It is stateless
// aside from reading friendship and membership data, and every denial is a
// named error, never a silent no-op.
type Gate struct {
	db *gorm.DB
}

func NewGate(db *gorm.DB) *Gate {
	return &Gate{db: db}
}

// AreFriends reads the friend-request workflow's accepted rows. The pair is
// unordered.
func (g *Gate) AreFriends(a, b string) (bool, error) {
	var count int64
	err := g.db.Model(&models.Friendship{}).
		Where("status = ?", models.FriendshipAccepted).
		Where("(user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, apperrors.Persistence("friendship lookup failed", err)
	}
	return count > 0, nil
}

// CanMessage authorizes a direct message from a to b: distinct users who
// are friends.
func (g *Gate) CanMessage(a, b string) error {
	if a == b {
		return apperrors.Validation("cannot message yourself")
	}
	ok, err := g.AreFriends(a, b)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Unauthorized("you are not friends with this user")
	}
	return nil
}

// CanMessageConversation authorizes sending within an existing conversation
// the actor already belongs to. Group messaging needs membership only, not
// pairwise friendship with every member.
func (g *Gate) CanMessageConversation(conversationID, actorID string) error {
	member, err := g.IsMember(conversationID, actorID)
	if err != nil {
		return err
	}
	if !member {
		return apperrors.Unauthorized("you are not part of this conversation")
	}
	return nil
}

// IsMember reports conversation membership.
func (g *Gate) IsMember(conversationID, userID string) (bool, error) {
	var row models.ConversationParticipant
	err := g.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Persistence("membership lookup failed", err)
	}
	return true, nil
}

// CanAdminister authorizes a group admin action: the actor must hold the
// admin role in the conversation.
func (g *Gate) CanAdminister(conversationID, actorID string) error {
	var row models.ConversationParticipant
	err := g.db.Where("conversation_id = ? AND user_id = ?", conversationID, actorID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Unauthorized("you are not part of this conversation")
	}
	if err != nil {
		return apperrors.Persistence("membership lookup failed", err)
	}
	if !row.IsAdmin {
		return apperrors.Unauthorized("only group admins can do this")
	}
	return nil
}

// CanCall uses the same friendship predicate as direct messaging.
func (g *Gate) CanCall(a, b string) error {
	if a == b {
		return apperrors.Validation("cannot call yourself")
	}
	ok, err := g.AreFriends(a, b)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Unauthorized("you are not friends with this user")
	}
	return nil
}
