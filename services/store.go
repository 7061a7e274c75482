package services

import (
	"errors"
	"strings"

	"amigo/metrics"
	"amigo/models"
	apperrors "amigo/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageDraft is the validated input for appending a message. Encrypted
// fields are opaque to the store; they are written and read back verbatim.
type MessageDraft struct {
	Text            string
	SharedPostID    string
	SharedStoryID   string
	SharedProfileID string
	Attachment      models.Attachment
	EncryptedKey    string
	EncryptedKeys   map[string]string
	IV              string
}

// ConversationStore owns the durable conversation and message records and
// their uniqueness and ordering invariants. Append order under a single
// store is the per-conversation message order.
type ConversationStore struct {
	db *gorm.DB
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// FindOrCreateDirect returns the unique private conversation for the pair,
// creating it on first contact. Duplicate creation under concurrency is
// prevented by the unique index on the canonical pair key, not by locking:
// a lost race surfaces as a constraint failure and resolves by re-reading.
func (s *ConversationStore) FindOrCreateDirect(a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, apperrors.Validation("a conversation needs two distinct participants")
	}

	key := models.DirectKeyFor(a, b)
	var conv models.Conversation
	err := s.db.Preload("Participants").Where("direct_key = ?", key).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Persistence("conversation lookup failed", err)
	}

	conv = models.Conversation{
		ID:        uuid.New().String(),
		DirectKey: &key,
		Participants: []models.ConversationParticipant{
			{UserID: a},
			{UserID: b},
		},
	}
	if createErr := s.db.Create(&conv).Error; createErr != nil {
		// Lost the creation race; the winner's row must exist now.
		var existing models.Conversation
		if err := s.db.Preload("Participants").Where("direct_key = ?", key).First(&existing).Error; err != nil {
			return nil, apperrors.Persistence("conversation create failed", createErr)
		}
		return &existing, nil
	}
	return &conv, nil
}

// CreateGroup creates a group conversation with the creator as sole initial
// admin. The creator is always a participant, supplied or not.
func (s *ConversationStore) CreateGroup(creator, name, avatar string, participantIDs []string) (*models.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.Validation("group name is required")
	}

	members := map[string]bool{creator: true}
	for _, id := range participantIDs {
		if id != "" {
			members[id] = true
		}
	}
	if len(members) < 2 {
		return nil, apperrors.Validation("a group needs at least one other participant")
	}

	conv := models.Conversation{
		ID:          uuid.New().String(),
		IsGroup:     true,
		GroupName:   strings.TrimSpace(name),
		GroupAvatar: avatar,
	}
	for id := range members {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{
			UserID:  id,
			IsAdmin: id == creator,
		})
	}

	if err := s.db.Create(&conv).Error; err != nil {
		return nil, apperrors.Persistence("group create failed", err)
	}
	return &conv, nil
}

// AppendMessage validates and persists a message and moves the
// conversation's last-message pointer, in one transaction.
func (s *ConversationStore) AppendMessage(conversationID, senderID string, d MessageDraft) (*models.Message, error) {
	msg := models.Message{
		ID:              uuid.New().String(),
		ConversationID:  conversationID,
		SenderID:        senderID,
		Text:            d.Text,
		SharedPostID:    d.SharedPostID,
		SharedStoryID:   d.SharedStoryID,
		SharedProfileID: d.SharedProfileID,
		Attachment:      d.Attachment,
		EncryptedKey:    d.EncryptedKey,
		EncryptedKeys:   d.EncryptedKeys,
		IV:              d.IV,
	}
	if !msg.HasContent() {
		return nil, apperrors.Validation("message needs text, an attachment or a shared item")
	}

	conv, err := s.Conversation(conversationID)
	if err != nil {
		return nil, err
	}

	// Direct messages carry the counterpart; group messages address all
	// other participants and leave the receiver empty.
	if !conv.IsGroup {
		for _, p := range conv.Participants {
			if p.UserID != senderID {
				msg.ReceiverID = p.UserID
			}
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("last_message_id", msg.ID).Error
	})
	if err != nil {
		return nil, apperrors.Persistence("message create failed", err)
	}

	metrics.MessagesPersisted.Inc()
	return &msg, nil
}

// MarkRead flips read on every unread message addressed to the reader in
// the conversation and returns the number changed.
func (s *ConversationStore) MarkRead(conversationID, readerID string) (int64, error) {
	res := s.db.Model(&models.Message{}).
		Where("conversation_id = ? AND is_read = ? AND sender_id <> ?", conversationID, false, readerID).
		Where("receiver_id = ? OR receiver_id = ?", readerID, "").
		Update("is_read", true)
	if res.Error != nil {
		return 0, apperrors.Persistence("mark read failed", res.Error)
	}
	return res.RowsAffected, nil
}

// SoftDelete hides the message for one viewer. The message stays visible
// to everyone else.
func (s *ConversationStore) SoftDelete(messageID, userID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.Where("id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("message not found")
		}
		return nil, apperrors.Persistence("message lookup failed", err)
	}
	if msg.DeletedFor.Contains(userID) {
		return &msg, nil
	}
	msg.DeletedFor = append(msg.DeletedFor, userID)
	if err := s.db.Model(&msg).Update("deleted_for", msg.DeletedFor).Error; err != nil {
		return nil, apperrors.Persistence("soft delete failed", err)
	}
	return &msg, nil
}

// HardDelete removes the message for everyone. Only the original sender may
// do this, and it is terminal.
func (s *ConversationStore) HardDelete(messageID, requesterID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.Where("id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("message not found")
		}
		return nil, apperrors.Persistence("message lookup failed", err)
	}
	if msg.SenderID != requesterID {
		return nil, apperrors.Unauthorized("only the sender can delete for everyone")
	}
	if err := s.db.Model(&msg).Update("deleted_for_everyone", true).Error; err != nil {
		return nil, apperrors.Persistence("hard delete failed", err)
	}
	msg.DeletedForEveryone = true
	return &msg, nil
}

// PromoteAdmin grants the admin role to an existing group participant.
func (s *ConversationStore) PromoteAdmin(conversationID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row, err := groupParticipant(tx, conversationID, userID)
		if err != nil {
			return err
		}
		if row.IsAdmin {
			return nil
		}
		if err := tx.Model(row).Update("is_admin", true).Error; err != nil {
			return apperrors.Persistence("promote failed", err)
		}
		return nil
	})
}

// DemoteAdmin revokes the admin role, refusing to empty the admin set while
// the group still has participants.
func (s *ConversationStore) DemoteAdmin(conversationID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row, err := groupParticipant(tx, conversationID, userID)
		if err != nil {
			return err
		}
		if !row.IsAdmin {
			return nil
		}

		var admins int64
		if err := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND is_admin = ?", conversationID, true).
			Count(&admins).Error; err != nil {
			return apperrors.Persistence("admin count failed", err)
		}
		if admins <= 1 {
			return apperrors.Validation("a group must keep at least one admin")
		}
		if err := tx.Model(row).Update("is_admin", false).Error; err != nil {
			return apperrors.Persistence("demote failed", err)
		}
		return nil
	})
}

// Leave removes the user from a group. If the admin set empties, the
// longest-standing remaining participant is promoted; an empty group is
// deleted outright. Returns true when the conversation was deleted.
func (s *ConversationStore) Leave(conversationID, userID string) (bool, error) {
	deleted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := groupParticipant(tx, conversationID, userID); err != nil {
			return err
		}
		if err := tx.Delete(&models.ConversationParticipant{}, "conversation_id = ? AND user_id = ?", conversationID, userID).Error; err != nil {
			return apperrors.Persistence("leave failed", err)
		}

		var remaining []models.ConversationParticipant
		if err := tx.Where("conversation_id = ?", conversationID).
			Order("joined_at ASC").Find(&remaining).Error; err != nil {
			return apperrors.Persistence("participant scan failed", err)
		}

		if len(remaining) == 0 {
			deleted = true
			// The last-message pointer references a history row; clear it
			// first or the purge trips the foreign key.
			if err := tx.Model(&models.Conversation{}).
				Where("id = ?", conversationID).
				Update("last_message_id", nil).Error; err != nil {
				return apperrors.Persistence("last message detach failed", err)
			}
			if err := tx.Delete(&models.Message{}, "conversation_id = ?", conversationID).Error; err != nil {
				return apperrors.Persistence("message purge failed", err)
			}
			if err := tx.Delete(&models.Conversation{}, "id = ?", conversationID).Error; err != nil {
				return apperrors.Persistence("conversation delete failed", err)
			}
			return nil
		}

		for _, p := range remaining {
			if p.IsAdmin {
				return nil
			}
		}
		// Admin set emptied: promote the earliest joined participant.
		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, remaining[0].UserID).
			Update("is_admin", true).Error
	})
	return deleted, err
}

// ClearChat soft-deletes the whole conversation history for one user.
func (s *ConversationStore) ClearChat(conversationID, userID string) (int64, error) {
	var msgs []models.Message
	if err := s.db.Where("conversation_id = ?", conversationID).Find(&msgs).Error; err != nil {
		return 0, apperrors.Persistence("history scan failed", err)
	}

	var cleared int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range msgs {
			if msgs[i].DeletedFor.Contains(userID) {
				continue
			}
			msgs[i].DeletedFor = append(msgs[i].DeletedFor, userID)
			if err := tx.Model(&msgs[i]).Update("deleted_for", msgs[i].DeletedFor).Error; err != nil {
				return err
			}
			cleared++
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Persistence("clear chat failed", err)
	}
	return cleared, nil
}

// Messages returns the conversation history visible to the viewer, in
// append order.
func (s *ConversationStore) Messages(conversationID, viewerID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Find(&msgs).Error
	if err != nil {
		return nil, apperrors.Persistence("history fetch failed", err)
	}

	visible := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.VisibleTo(viewerID) {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// ConversationsOf lists the user's conversations with last messages.
func (s *ConversationStore) ConversationsOf(userID string) ([]models.Conversation, error) {
	var ids []string
	err := s.db.Model(&models.ConversationParticipant{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, apperrors.Persistence("conversation list failed", err)
	}
	if len(ids) == 0 {
		return []models.Conversation{}, nil
	}

	var convs []models.Conversation
	err = s.db.Preload("Participants").Preload("LastMessage").
		Where("id IN ?", ids).
		Order("updated_at DESC").Find(&convs).Error
	if err != nil {
		return nil, apperrors.Persistence("conversation list failed", err)
	}
	return convs, nil
}

// Conversation loads a conversation with its participants.
func (s *ConversationStore) Conversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Preload("Participants").Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperrors.Persistence("conversation lookup failed", err)
	}
	return &conv, nil
}

// groupParticipant loads a participant row of a group conversation.
func groupParticipant(tx *gorm.DB, conversationID, userID string) (*models.ConversationParticipant, error) {
	var conv models.Conversation
	if err := tx.Where("id = ?", conversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("conversation not found")
		}
		return nil, apperrors.Persistence("conversation lookup failed", err)
	}
	if !conv.IsGroup {
		return nil, apperrors.Validation("not a group conversation")
	}

	var row models.ConversationParticipant
	err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("user is not in this group")
	}
	if err != nil {
		return nil, apperrors.Persistence("participant lookup failed", err)
	}
	return &row, nil
}
