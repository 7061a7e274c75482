package controllers

import (
	"net/http"

	apperrors "amigo/pkg/errors"
	"amigo/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetConversations lists the caller's conversations with last messages,
// most recently active first.
func (a *API) GetConversations(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		utils.RespondError(c, http.StatusUnauthorized, "User not found")
		return
	}

	conversations, err := a.Store.ConversationsOf(user.ID)
	if err != nil {
		a.Log.Error("conversation list failed", zap.Error(err))
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}
	utils.RespondSuccess(c, conversations, nil)
}

// GetMessagesByConversationID returns the history visible to the caller.
// Offline participants catch up on missed relay events here.
func (a *API) GetMessagesByConversationID(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		utils.RespondError(c, http.StatusUnauthorized, "User not found")
		return
	}
	conversationID := c.Param("conversation_id")

	member, err := a.Gate.IsMember(conversationID, user.ID)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	if !member {
		utils.RespondError(c, http.StatusForbidden, "You are not part of this conversation")
		return
	}

	messages, err := a.Store.Messages(conversationID, user.ID)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	utils.RespondSuccess(c, messages, nil)
}

// MarkConversationRead flips unread messages addressed to the caller and
// returns the count changed.
func (a *API) MarkConversationRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		utils.RespondError(c, http.StatusUnauthorized, "User not found")
		return
	}
	conversationID := c.Param("conversation_id")

	member, err := a.Gate.IsMember(conversationID, user.ID)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to mark read")
		return
	}
	if !member {
		utils.RespondError(c, http.StatusForbidden, "You are not part of this conversation")
		return
	}

	count, err := a.Store.MarkRead(conversationID, user.ID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			utils.RespondError(c, http.StatusNotFound, "Conversation not found")
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, "Failed to mark read")
		return
	}
	utils.RespondSuccess(c, gin.H{"updated": count}, nil)
}
