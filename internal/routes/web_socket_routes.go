package routes

import (
	"github.com/gin-gonic/gin"

	"custody_tracker/internal/controllers"
)

func WebSocketRoutes(r *gin.Engine, d Deps) {
	if d.Hub == nil {
		return
	}
	wsRoutes := r.Group("/ws")
	{
		wsRoutes.GET("/alerts", controllers.HandleAlertsWebSocket(d.Auth, d.Hub))
	}
}
