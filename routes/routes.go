package routes

import (
	"net/http"

	"amigo/controllers"
	"amigo/middlewares"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// RegisterRoutes wires the websocket entry, the REST read surface and the
// operational endpoints.
func RegisterRoutes(api *controllers.API, db *gorm.DB, jwtSecret string) *gin.Engine {

	r := gin.Default()
	corsConfig := cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}
	r.Use(cors.New(corsConfig))

	r.GET("/ws", api.WSController)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := r.Group("/api")
	protected.Use(middlewares.TokenAuthMiddleware(jwtSecret, db))
	{
		protected.GET("/conversations", api.GetConversations)
		protected.GET("/conversations/:conversation_id/messages", api.GetMessagesByConversationID)
		protected.POST("/conversations/:conversation_id/read", api.MarkConversationRead)
		protected.GET("/users/:id", api.GetUser)
	}

	return r
}
