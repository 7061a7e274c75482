package controllers

import (
	"amigo/models"
	"amigo/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API contains the shared dependencies for all HTTP handlers.
type API struct {
	DB        *gorm.DB
	Store     *services.ConversationStore
	Gate      *services.Gate
	Relay     *services.Relay
	JWTSecret string
	Log       *zap.Logger
}

func NewAPI(db *gorm.DB, store *services.ConversationStore, gate *services.Gate, relay *services.Relay, secret string, log *zap.Logger) *API {
	return &API{
		DB:        db,
		Store:     store,
		Gate:      gate,
		Relay:     relay,
		JWTSecret: secret,
		Log:       log,
	}
}

// currentUser pulls the authenticated user set by the auth middleware.
func currentUser(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}
