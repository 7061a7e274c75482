package controllers

import (
	"net/http"

	"amigo/models"
	"amigo/utils"

	"github.com/gin-gonic/gin"
)

// GetUser is the identity lookup for call notifications: display name and
// avatar only. Account data itself is owned elsewhere.
func (a *API) GetUser(c *gin.Context) {
	id := c.Param("id")

	var user models.User
	if err := a.DB.Where("id = ?", id).First(&user).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, "User not found")
		return
	}

	utils.RespondSuccess(c, gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"avatar_url":   user.AvatarURL,
	}, nil)
}
