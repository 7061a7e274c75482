package controllers

import (
	"net/http"

	"amigo/middlewares"

	"github.com/gin-gonic/gin"
)

// WSController authenticates the upgrade request and hands the connection
// to the relay. Browsers cannot set headers on websocket requests, so the
// token rides in the query string.
func (a *API) WSController(ctx *gin.Context) {
	token := ctx.Query("token")
	if token == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
		return
	}
	userID, err := middlewares.ParseUserID(token, a.JWTSecret)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	a.Relay.HandleWebSocket(ctx, userID)
}
