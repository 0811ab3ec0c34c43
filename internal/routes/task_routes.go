package routes

import (
	"github.com/gin-gonic/gin"

	"custody_tracker/internal/middleware"
)

func TaskRoutes(r *gin.Engine, d Deps) {
	tasks := r.Group("/tasks")
	{
		tasks.POST("", d.Auth.RequireAuthWithRole(middleware.RoleAdmin), d.Tasks.CreateTask)
		tasks.GET("/:id", d.Auth.RequireAuthWithRole(middleware.RoleAdmin, middleware.RoleReviewer), d.Tasks.GetTask)
		tasks.DELETE("/:id", d.Auth.RequireAuthWithRole(middleware.RoleAdmin), d.Tasks.DeactivateTask)
	}
}
