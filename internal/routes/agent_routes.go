package routes

import (
	"github.com/gin-gonic/gin"

	"custody_tracker/internal/middleware"
)

// AgentRoutes mounts custody and attendance submission. Reads are open to
// reviewers too.
func AgentRoutes(r *gin.Engine, d Deps) {
	submit := d.Auth.RequireAuthWithRole(middleware.RoleAgent)
	read := d.Auth.RequireAuthWithRole(middleware.RoleAgent, middleware.RoleAdmin, middleware.RoleReviewer)

	task := r.Group("/tasks/:id")
	{
		task.POST("/events", submit, d.Events.RecordEvent)
		task.GET("/events", read, d.Events.ListEvents)
		task.POST("/attendance", submit, d.Events.RecordAttendance)
		task.GET("/attendance", read, d.Events.ListAttendance)
	}
}
