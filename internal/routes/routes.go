package routes

import (
	"io"

	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"custody_tracker/internal/controllers"
	"custody_tracker/internal/logger"
	"custody_tracker/internal/middleware"
)

// Deps are the handlers and collaborators the router mounts.
type Deps struct {
	Auth      *middleware.Auth
	Tasks     *controllers.TaskController
	Events    *controllers.EventController
	Hub       *controllers.AlertHub
	Gatherer  prometheus.Gatherer // nil skips /metrics
	AccessLog io.Writer           // nil disables access logging
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	if d.AccessLog != nil {
		access := logger.AccessLogger(d.AccessLog)
		r.Use(ginlog.SetLogger(
			ginlog.WithUTC(true),
			ginlog.WithSkipPath([]string{"/healthz", "/metrics"}),
			ginlog.WithLogger(func(_ *gin.Context, _ zerolog.Logger) zerolog.Logger {
				return access
			}),
		))
	}
	r.Use(gin.Recovery())
	r.Use(middleware.EnableCORS())

	r.GET("/healthz", controllers.Health)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	TaskRoutes(r, d)
	AgentRoutes(r, d)
	WebSocketRoutes(r, d)
	return r
}
